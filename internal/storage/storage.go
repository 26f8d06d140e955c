// Package storage holds offsite destinations for packed bundles.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rowjay/supa-backup/internal/config"
)

// ErrNotExist is returned by Get and Stat for a missing key.
var ErrNotExist = errors.New("archive object does not exist")

// ObjectInfo describes one stored object. IsManifest marks archive manifest
// sidecars so listings can skip them.
type ObjectInfo struct {
	Key        string
	Size       int64
	Modified   time.Time
	ETag       string
	Metadata   map[string]string
	IsManifest bool
}

// Storage is an archive destination addressed by slash separated keys.
type Storage interface {
	// Put stores r under key. A negative size streams until EOF.
	Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns every object below prefix, manifests included.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete succeeds for a key that is already gone.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New opens the archive destination selected by cfg.Backend.
func New(cfg config.ArchiveConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("archive.local.path is required")
		}
		return NewLocal(cfg.Local.Path), nil
	case "s3":
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("archive.s3.endpoint and archive.s3.bucket are required")
		}
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported archive backend %q (want local or s3)", cfg.Backend)
	}
}
