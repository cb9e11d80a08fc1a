package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgraph/internal/config"
	"socialgraph/internal/logging"
)

// ConnectMongo opens a Mongo client and pings the primary. Multi-document
// transactions need a replica set or sharded cluster.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetTimeout(cfg.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logging.Info().
		Str("component", "database").
		Str("database", cfg.Database).
		Msg("connected to mongo")
	return client.Database(cfg.Database), nil
}
