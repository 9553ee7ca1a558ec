// Package storage holds the export destinations for build artifacts: a
// local directory tree or an S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"time"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
)

// Backend stores exported artifacts under slash-separated keys
type Backend interface {
	// Upload stores size bytes from reader under key
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object; a missing object is not an error
	Delete(ctx context.Context, key string) error

	// List lists objects whose key starts with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// URL returns where key can be found (a path or s3:// URL)
	URL(key string) string

	// Type returns the storage backend type
	Type() string

	// Location returns a human-readable location description
	Location() string
}

// ObjectInfo holds metadata about a stored object
type ObjectInfo struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Backend types
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Config holds the storage configuration
type Config struct {
	// Type is the storage backend type: "local" or "s3"
	Type string

	// Local storage configuration
	Local LocalConfig

	// S3 storage configuration
	S3 S3Config
}

// DefaultConfig returns a local storage configuration rooted at "export"
func DefaultConfig() Config {
	return Config{
		Type: TypeLocal,
		Local: LocalConfig{
			BasePath: "export",
		},
	}
}

// New creates the backend selected by cfg.Type
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeS3:
		return NewS3(cfg.S3)
	case TypeLocal, "":
		return NewLocal(cfg.Local)
	default:
		return nil, kerrors.ErrInvalidConfig.WithMessagef("unknown storage type %q (want local or s3)", cfg.Type)
	}
}
