// Package interfaces declares the contracts between the pipeline and its
// pluggable destinations.
package interfaces

import (
	"context"
	"io"
)

// ObjectStorage stores interchange outputs. Implementations are append-only
// from the pipeline's point of view: nothing here overwrites or deletes.
type ObjectStorage interface {
	// Put writes data to a path. With IfNotExists it fails with a
	// NameCollision error when the path is taken.
	Put(ctx context.Context, path string, data io.Reader, opts PutOptions) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)

	// Location renders the fully qualified location of a path for reporting.
	Location(path string) string

	// Scheme returns the storage scheme ("file", "s3").
	Scheme() string
}

// PutOptions configures write operations.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// If set, the write will fail if the object already exists.
	IfNotExists bool
}
