package artifact

import (
	"context"
	"io"
)

// ContentTypeGLB is the media type for binary glTF assets.
const ContentTypeGLB = "model/gltf-binary"

// Store is the opaque blob interface the core talks to. The backend (S3,
// local filesystem) is swappable without touching the scheduler.
type Store interface {
	// Upload stores the blob under key and returns a retrievable URL.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Fetch opens the blob stored under key for reading.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
