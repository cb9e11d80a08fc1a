package model

import "fmt"

// MediaKind selects the validation rules and storage folder for an upload.
type MediaKind string

const (
	MediaKindAvatar MediaKind = "avatars"
	MediaKindPost   MediaKind = "posts"
)

const (
	MaxAvatarSizeBytes    = 5 * 1024 * 1024  // 5MB per avatar
	MaxPostMediaSizeBytes = 10 * 1024 * 1024 // 10MB per post media item
	AvatarWidth           = 200
	AvatarHeight          = 200
	AvatarExt             = ".jpg"
	MediaCacheControl     = "public, max-age=31536000" // 1 year
)

// Supported content types for upload validation
const (
	ContentTypeJPEG      = "image/jpeg"
	ContentTypePNG       = "image/png"
	ContentTypeGIF       = "image/gif"
	ContentTypeWebP      = "image/webp"
	ContentTypeMP4       = "video/mp4"
	ContentTypeQuickTime = "video/quicktime"
	ContentTypeAVI       = "video/x-msvideo"
)

var allowedAvatarTypes = map[string]string{
	ContentTypeJPEG: ".jpg",
	ContentTypePNG:  ".png",
	ContentTypeGIF:  ".gif",
}

var allowedPostMediaTypes = map[string]string{
	ContentTypeJPEG:      ".jpg",
	ContentTypePNG:       ".png",
	ContentTypeGIF:       ".gif",
	ContentTypeWebP:      ".webp",
	ContentTypeMP4:       ".mp4",
	ContentTypeQuickTime: ".mov",
	ContentTypeAVI:       ".avi",
}

// Error codes for HTTP responses
const (
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidMediaType = "INVALID_MEDIA_TYPE"
)

// Domain errors for media operations
var (
	ErrInvalidMedia = fmt.Errorf("invalid media: %w", ErrValidation)
	ErrFileTooLarge = fmt.Errorf("file too large: %w", ErrInvalidMedia)
	ErrEmptyFile    = fmt.Errorf("file is empty: %w", ErrInvalidMedia)

	ErrInvalidMediaType  = fmt.Errorf("unsupported media type: %w", ErrInvalidMedia)
	ErrMediaTypeMismatch = fmt.Errorf("content does not match declared type: %w", ErrInvalidMedia)
)

// UploadResult is the stored location of an uploaded file. Ref is the stable reference
// stored on users and posts.
type UploadResult struct {
	Ref         string `json:"ref"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// MaxSize returns the byte limit for the kind.
func (k MediaKind) MaxSize() int {
	if k == MediaKindAvatar {
		return MaxAvatarSizeBytes
	}
	return MaxPostMediaSizeBytes
}

// Extension returns the file extension for an allowed content type of the kind, or
// false when the type is not accepted.
func (k MediaKind) Extension(contentType string) (string, bool) {
	allowed := allowedPostMediaTypes
	if k == MediaKindAvatar {
		allowed = allowedAvatarTypes
	}
	ext, ok := allowed[contentType]
	return ext, ok
}

// IsAllowedType reports if the provided content type is supported for the kind.
func (k MediaKind) IsAllowedType(contentType string) bool {
	_, ok := k.Extension(contentType)
	return ok
}
