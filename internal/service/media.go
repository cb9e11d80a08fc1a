package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"socialgraph/internal/config"
	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
	"socialgraph/internal/model"
)

var errMediaNotConfigured = errors.New("media storage is not configured")

// MediaStore persists uploaded bytes and hands out stable references.
type MediaStore interface {
	// Store validates data against the kind's rules and returns its reference. Invalid
	// input fails with an error wrapping model.ErrInvalidMedia.
	Store(ctx context.Context, kind model.MediaKind, data []byte, declaredType string) (string, error)
	// Delete removes a stored reference. A missing object is not an error.
	Delete(ctx context.Context, ref string) error
	// Owns reports whether ref was produced by this store.
	Owns(ref string) bool
	// OwnsKind reports whether ref was produced by this store for kind.
	OwnsKind(kind model.MediaKind, ref string) bool
}

// keyUnder returns the object key of ref when it sits in kind's folder below prefix.
// Keys that are not already clean are rejected so "avatars/../posts/x" never matches.
func keyUnder(prefix string, kind model.MediaKind, ref string) (string, bool) {
	key, ok := strings.CutPrefix(ref, prefix+"/")
	if !ok || path.Clean(key) != key {
		return "", false
	}
	return key, strings.HasPrefix(key, string(kind)+"/")
}

// NewMediaStore builds the store selected by cfg.Driver.
func NewMediaStore(ctx context.Context, cfg config.MediaConfig) (MediaStore, error) {
	switch cfg.Driver {
	case config.MediaS3:
		return NewS3MediaStore(ctx, cfg.S3)
	case config.MediaLocal:
		return NewLocalMediaStore(cfg.LocalDir, cfg.URLPrefix)
	default:
		return nil, fmt.Errorf("unknown media driver %q", cfg.Driver)
	}
}

// preparedMedia is an upload that passed validation, ready to be written.
type preparedMedia struct {
	key          string
	body         []byte
	contentType  string
	cacheControl string
}

// prepareMedia enforces size and type rules for kind. The sniffed content must agree
// with the declared type. Avatars are normalised to a square JPEG.
func prepareMedia(kind model.MediaKind, data []byte, declaredType string) (*preparedMedia, error) {
	if len(data) == 0 {
		return nil, model.ErrEmptyFile
	}
	if len(data) > kind.MaxSize() {
		return nil, model.ErrFileTooLarge
	}

	detected := mimetype.Detect(data)
	contentType := normalizeContentType(declaredType)
	if contentType == "" {
		contentType = normalizeContentType(detected.String())
	}
	ext, ok := kind.Extension(contentType)
	if !ok {
		return nil, model.ErrInvalidMediaType
	}
	if !detected.Is(contentType) {
		return nil, model.ErrMediaTypeMismatch
	}

	body := data
	if kind == model.MediaKindAvatar {
		jpegBytes, err := resizeToJPEG(data, model.AvatarWidth, model.AvatarHeight, 85)
		if err != nil {
			return nil, err
		}
		body, contentType, ext = jpegBytes, model.ContentTypeJPEG, model.AvatarExt
	}

	return &preparedMedia{
		key:          path.Join(string(kind), uuid.NewString()+ext),
		body:         body,
		contentType:  contentType,
		cacheControl: model.MediaCacheControl,
	}, nil
}

func normalizeContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// resizeToJPEG centers/crops to target size and encodes as JPEG.
func resizeToJPEG(data []byte, width, height, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w: %w", model.ErrInvalidMedia, err)
	}

	resized := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ===== S3 =====

// S3MediaStore writes to an S3-compatible bucket (Cloudflare R2, MinIO, AWS S3).
type S3MediaStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3MediaStore constructs the S3 client. AccountID set targets Cloudflare R2.
func NewS3MediaStore(ctx context.Context, cfg config.S3Config) (*S3MediaStore, error) {
	if cfg.Bucket == "" || cfg.PublicURL == "" {
		return nil, fmt.Errorf("missing s3 bucket or public url")
	}

	endpoint := cfg.Endpoint
	if cfg.AccountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3MediaStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

func (s *S3MediaStore) Store(ctx context.Context, kind model.MediaKind, data []byte, declaredType string) (string, error) {
	m, err := prepareMedia(kind, data, declaredType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(m.key),
		Body:         bytes.NewReader(m.body),
		ContentType:  aws.String(m.contentType),
		CacheControl: aws.String(m.cacheControl),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return s.publicURL + "/" + m.key, nil
}

// Delete removes an owned object. S3 DeleteObject succeeds for missing keys.
func (s *S3MediaStore) Delete(ctx context.Context, ref string) error {
	if !s.Owns(ref) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(ref, s.publicURL+"/")),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

func (s *S3MediaStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, s.publicURL+"/")
}

func (s *S3MediaStore) OwnsKind(kind model.MediaKind, ref string) bool {
	_, ok := keyUnder(s.publicURL, kind, ref)
	return ok
}

// ===== LOCAL =====

// LocalMediaStore writes to a directory served under urlPrefix.
type LocalMediaStore struct {
	dir       string
	urlPrefix string
}

func NewLocalMediaStore(dir, urlPrefix string) (*LocalMediaStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing media directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &LocalMediaStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// Dir is the root directory of stored files.
func (s *LocalMediaStore) Dir() string {
	return s.dir
}

func (s *LocalMediaStore) Store(_ context.Context, kind model.MediaKind, data []byte, declaredType string) (string, error) {
	m, err := prepareMedia(kind, data, declaredType)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(m.key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	if err := os.WriteFile(target, m.body, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return s.urlPrefix + "/" + m.key, nil
}

func (s *LocalMediaStore) Delete(_ context.Context, ref string) error {
	if !s.Owns(ref) {
		return nil
	}
	key := filepath.FromSlash(strings.TrimPrefix(ref, s.urlPrefix+"/"))
	if !filepath.IsLocal(key) {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

func (s *LocalMediaStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, s.urlPrefix+"/")
}

func (s *LocalMediaStore) OwnsKind(kind model.MediaKind, ref string) bool {
	_, ok := keyUnder(s.urlPrefix, kind, ref)
	return ok
}

// ===== SERVICE =====

// MediaService stores post media items ahead of post creation.
type MediaService struct {
	store MediaStore
	log   zerolog.Logger
}

func NewMediaService(store MediaStore) *MediaService {
	return &MediaService{store: store, log: logging.Component("media_service")}
}

// UploadPostMedia stores one image or video for a later CreatePost.
func (s *MediaService) UploadPostMedia(ctx context.Context, data []byte, declaredType string) (result *model.UploadResult, err error) {
	defer func() { metrics.RecordMutation("upload_media", err) }()

	if s.store == nil {
		return nil, errMediaNotConfigured
	}
	ref, err := s.store.Store(ctx, model.MediaKindPost, data, declaredType)
	if err != nil {
		return nil, err
	}

	contentType := normalizeContentType(declaredType)
	if contentType == "" {
		contentType = normalizeContentType(mimetype.Detect(data).String())
	}
	s.log.Debug().Str("ref", ref).Str("content_type", contentType).Int("size", len(data)).Msg("Media stored")
	return &model.UploadResult{Ref: ref, ContentType: contentType, Size: len(data)}, nil
}

// DiscardPostMedia removes uploads that never made it into a post. Refs this store did
// not produce as post media are skipped; failures are logged.
func (s *MediaService) DiscardPostMedia(ctx context.Context, refs ...string) {
	if s.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if !s.store.OwnsKind(model.MediaKindPost, ref) {
			continue
		}
		if err := s.store.Delete(ctx, ref); err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("Failed to discard unused media")
		}
	}
}
