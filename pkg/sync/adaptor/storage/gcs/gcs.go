// Package gcs provides a Google Cloud Storage implementation of the storage
// adapter interface.
package gcs

import (
	"context"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/famsync/pkg/sync/adaptor/storage"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// ProviderType defines the type identifier for this GCS storage provider.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a GCS storage adapter. When credentialsFile is empty,
// application default credentials are used.
func NewGCSAdapter(ctx context.Context, credentialsFile, name string) (storageAdapter.StorageConnection, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, name: name}, nil
}

// Upload streams the object into the bucket.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	if bucket == "" {
		return fmt.Errorf("gcs storage adapter '%s': bucket must be specified", a.name)
	}
	w := a.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object 'gs://%s/%s': %w", bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object 'gs://%s/%s': %w", bucket, objectName, err)
	}
	logger.Debugf("Uploaded object 'gs://%s/%s' (gcs adapter '%s').", bucket, objectName, a.name)
	return nil
}

func (a *gcsAdapter) Type() string { return ProviderType }
func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) Close() error {
	return a.client.Close()
}
