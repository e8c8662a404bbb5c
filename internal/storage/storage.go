// Package storage defines the object storage used for collection archives.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports each backend to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Download for a missing key
var ErrObjectNotFound = errors.New("object not found")

// Storage is implemented by every archive backend.
// Keys are slash separated regardless of backend.
type Storage interface {
	// Upload stores the object and returns its path and SHA-256 checksum
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download returns a reader for the object or ErrObjectNotFound
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at key
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the key the object was stored under
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}
