// Package storage defines the common interface for archive storage adapters.
// It abstracts object storage so the archiver can target the local file
// system or GCS through a unified API.
package storage

import (
	"context"
	"io"
)

// StorageConnection represents a connection to an object storage backend.
type StorageConnection interface {
	// Upload writes data to the specified bucket and object name. For
	// adapters without a bucket concept the bucket may be empty.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error

	// Type returns the adapter type (e.g., "local", "gcs").
	Type() string

	// Name returns the name of this connection.
	Name() string

	// Close releases the underlying resources.
	Close() error
}
