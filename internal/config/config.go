package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"socialgraph/internal/logging"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"
)

// Media drivers
const (
	MediaLocal = "local"
	MediaS3    = "s3"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "SOCIALGRAPH_CONFIG"

// DefaultConfigPaths are searched in order when ConfigPathEnvVar is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	Postgres    PostgresConfig    `koanf:"postgres"`
	Mongo       MongoConfig       `koanf:"mongo"`
	Redis       RedisConfig       `koanf:"redis"`
	Events      EventsConfig      `koanf:"events"`
	Timeline    TimelineConfig    `koanf:"timeline"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`
	Auth        AuthConfig        `koanf:"auth"`
	Media       MediaConfig       `koanf:"media"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
	// Migrate applies the embedded schema on startup (postgres) or creates indexes (mongo).
	Migrate bool `koanf:"migrate"`
}

type PostgresConfig struct {
	Host           string `koanf:"host"`
	Port           string `koanf:"port"`
	User           string `koanf:"user"`
	Password       string `koanf:"password"`
	Name           string `koanf:"name"`
	SSLMode        string `koanf:"sslmode"`
	ConnectTimeout int    `koanf:"connect_timeout"` // seconds
	MaxOpenConns   int    `koanf:"max_open_conns"`
}

// DSN builds the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s connect_timeout=%d",
		p.Host, p.User, p.Password, p.Name, p.Port, p.SSLMode, p.ConnectTimeout)
}

type MongoConfig struct {
	URI      string        `koanf:"uri"`
	Database string        `koanf:"database"`
	Timeout  time.Duration `koanf:"timeout"`
}

type RedisConfig struct {
	// URL empty disables Redis: events are dispatched in process and timelines are not cached.
	URL string `koanf:"url"`
}

type EventsConfig struct {
	Stream         string        `koanf:"stream"`
	Group          string        `koanf:"group"`
	Consumer       string        `koanf:"consumer"`
	BatchSize      int64         `koanf:"batch_size"`
	Block          time.Duration `koanf:"block"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	// Breaker settings for the Redis publisher
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type TimelineConfig struct {
	GlobalCap int           `koanf:"global_cap"`
	HomeCap   int           `koanf:"home_cap"`
	TTL       time.Duration `koanf:"ttl"`
}

type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type ReconcileConfig struct {
	// Interval zero disables the periodic pass.
	Interval time.Duration `koanf:"interval"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type MediaConfig struct {
	Driver    string   `koanf:"driver"`
	LocalDir  string   `koanf:"local_dir"`
	URLPrefix string   `koanf:"url_prefix"`
	S3        S3Config `koanf:"s3"`
}

// S3Config targets any S3-compatible store. AccountID set means Cloudflare R2.
type S3Config struct {
	AccountID       string `koanf:"account_id"`
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Bucket          string `koanf:"bucket"`
	PublicURL       string `koanf:"public_url"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// LoggerConfig converts to the logging package configuration.
func (l LoggingConfig) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = l.Level
	cfg.Format = l.Format
	cfg.Caller = l.Caller
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            "8080",
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  StoragePostgres,
			Migrate: true,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           "5432",
			User:           "postgres",
			Name:           "socialgraph",
			SSLMode:        "disable",
			ConnectTimeout: 5,
			MaxOpenConns:   25,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "socialgraph",
			Timeout:  10 * time.Second,
		},
		Events: EventsConfig{
			Stream:          "stream:events",
			Group:           "event_workers",
			Consumer:        hostnameOr("worker-1"),
			BatchSize:       10,
			Block:           5 * time.Second,
			HandlerTimeout:  10 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Timeline: TimelineConfig{
			GlobalCap: 1000,
			HomeCap:   500,
			TTL:       7 * 24 * time.Hour,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
		Reconcile: ReconcileConfig{
			Interval: 10 * time.Minute,
		},
		Media: MediaConfig{
			Driver:    MediaLocal,
			LocalDir:  "uploads",
			URLPrefix: "/uploads",
			S3: S3Config{
				Region: "auto",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers struct defaults, an optional YAML file, an optional .env file and the
// process environment (highest priority), then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Msg("no .env file loaded, relying on environment variables")
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks driver names and required secrets.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StoragePostgres, StorageMongo, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be postgres, mongo or memory", c.Storage.Driver))
	}

	switch c.Media.Driver {
	case MediaLocal:
		if c.Media.LocalDir == "" {
			errs = append(errs, errors.New("media.local_dir is required for the local media driver"))
		}
	case MediaS3:
		if c.Media.S3.Bucket == "" || c.Media.S3.PublicURL == "" {
			errs = append(errs, errors.New("media.s3.bucket and media.s3.public_url are required for the s3 media driver"))
		}
		if c.Media.S3.AccountID == "" && c.Media.S3.Endpoint == "" {
			errs = append(errs, errors.New("media.s3.account_id or media.s3.endpoint is required for the s3 media driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.driver %q must be local or s3", c.Media.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Timeline.GlobalCap <= 0 || c.Timeline.HomeCap <= 0 {
		errs = append(errs, errors.New("timeline caps must be positive"))
	}

	return errors.Join(errs...)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings keeps the flat variable names used by existing deployments.
var envMappings = map[string]string{
	"server_port":             "server.port",
	"server_host":             "server.host",
	"server_request_timeout":  "server.request_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"storage_driver":  "storage.driver",
	"storage_migrate": "storage.migrate",

	"db_host":            "postgres.host",
	"db_port":            "postgres.port",
	"db_user":            "postgres.user",
	"db_password":        "postgres.password",
	"db_name":            "postgres.name",
	"db_sslmode":         "postgres.sslmode",
	"db_connect_timeout": "postgres.connect_timeout",
	"db_max_open_conns":  "postgres.max_open_conns",

	"mongo_uri":      "mongo.uri",
	"mongo_database": "mongo.database",
	"mongo_timeout":  "mongo.timeout",

	"redis_url": "redis.url",

	"events_stream":           "events.stream",
	"events_group":            "events.group",
	"events_consumer":         "events.consumer",
	"events_batch_size":       "events.batch_size",
	"events_handler_timeout":  "events.handler_timeout",
	"events_breaker_failures": "events.breaker_failures",
	"events_breaker_timeout":  "events.breaker_timeout",

	"timeline_global_cap": "timeline.global_cap",
	"timeline_home_cap":   "timeline.home_cap",
	"timeline_ttl":        "timeline.ttl",

	"idempotency_ttl":    "idempotency.ttl",
	"reconcile_interval": "reconcile.interval",

	"jwt_secret": "auth.jwt_secret",

	"media_driver":     "media.driver",
	"media_local_dir":  "media.local_dir",
	"media_url_prefix": "media.url_prefix",

	"r2_account_id":        "media.s3.account_id",
	"r2_access_key_id":     "media.s3.access_key_id",
	"r2_secret_access_key": "media.s3.secret_access_key",
	"r2_bucket_name":       "media.s3.bucket",
	"r2_public_url":        "media.s3.public_url",
	"s3_endpoint":          "media.s3.endpoint",
	"s3_region":            "media.s3.region",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps SERVER_PORT -> server.port. Unknown variables are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
