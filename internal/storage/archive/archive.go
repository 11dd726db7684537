// Package archive stores snapshot blobs on the local filesystem or in an
// S3-compatible bucket.
package archive

import (
	"context"

	"github.com/newthinker/marketgate/internal/core"
)

// Storage defines the interface for snapshot storage backends
type Storage interface {
	// Write stores data at the given path, replacing any previous value
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path. A missing path returns an
	// error matching core.ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error
}

// Config selects and configures a backend.
type Config struct {
	Type string   `mapstructure:"type"` // "local" or "s3"; empty disables archiving
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

// New creates the configured backend. It returns nil, nil when archiving is
// disabled.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		if cfg.Path == "" {
			return nil, core.Errorf(core.ErrConfigMissing, "archive.path is required for local archive")
		}
		return NewLocalFS(cfg.Path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", cfg.Type)
	}
}
