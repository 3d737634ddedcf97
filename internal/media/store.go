package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/raine/microstock-tagger/config"
)

// PathPrefix is where the web server mounts previews that it serves itself.
const PathPrefix = "/preview/"

// ErrNotFound indicates the preview was released or never existed.
var ErrNotFound = errors.New("preview not found")

// PutInput is a selected file to keep available for display.
type PutInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Handle is a revocable reference to a stored preview.
type Handle struct {
	Key string
	URL string
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.Key == ""
}

// Store keeps previews until they are released.
type Store interface {
	Put(ctx context.Context, input PutInput) (Handle, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	Release(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Store.
func New(ctx context.Context, cfg config.PreviewConfig) (Store, error) {
	switch cfg.Store {
	case "", config.PreviewStoreMemory:
		return NewMemoryStore(), nil
	case config.PreviewStoreLocal:
		return NewLocalStore(cfg.Dir)
	case config.PreviewStoreS3:
		return NewS3Store(ctx, S3Config{
			Bucket:         cfg.Bucket,
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			PublicURL:      cfg.PublicURL,
			KeyPrefix:      cfg.KeyPrefix,
			ForcePathStyle: cfg.ForcePathStyle,
		})
	default:
		return nil, &config.ConfigurationError{Key: "PREVIEW_STORE", Reason: fmt.Sprintf("has unknown value %q", cfg.Store)}
	}
}

// newKey returns a random object name keeping a short extension so served
// files get a sensible content type.
func newKey(filename, contentType string) string {
	return uuid.NewString() + extensionFor(filename, contentType)
}

// extensionFor picks the key extension from the validated content type. The
// filename's own extension is kept only when it names the same type.
func extensionFor(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	extType := ""
	if ext != "" {
		extType, _, _ = mime.ParseMediaType(mime.TypeByExtension(ext))
	}

	if contentType == "" {
		if strings.HasPrefix(extType, "image/") {
			return ext
		}
		return ""
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if extType == mediaType {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func previewURL(key string) string {
	return PathPrefix + key
}
