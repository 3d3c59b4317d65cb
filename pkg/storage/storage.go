// Package storage provides the blob store that holds uploaded inventory files.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored path does not exist.
var ErrNotFound = errors.New("storage: file not found")

// ErrInvalidPath is returned for paths that escape the storage root.
var ErrInvalidPath = errors.New("storage: invalid path")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Storage-relative path, used as the session's stored filename
	CreatedAt   time.Time `json:"created_at"`
}

// FileStat is the subset of file metadata the parser needs before reading
type FileStat struct {
	Size    int64
	ModTime time.Time
}

// Storage defines the blob operations used by the ingestion pipeline
type Storage interface {
	// Upload stores a file under the owner's prefix and returns its metadata
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// ReadFile returns the full contents of a stored file
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Stat returns size information without reading the file
	Stat(ctx context.Context, path string) (FileStat, error)

	// Delete removes a stored file
	Delete(ctx context.Context, path string) error
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
)

// Config holds storage configuration
type Config struct {
	Type      StorageType
	LocalPath string
}

// New creates a new Storage implementation based on configuration
func New(cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, errors.New("storage: unsupported storage type " + string(cfg.Type))
	}
}
