// Package local provides a local file system implementation of the storage
// adapter interface.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/tigerroll/famsync/pkg/sync/adaptor/storage"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// ProviderType defines the type identifier for this local storage provider.
const ProviderType = "local"

type localAdapter struct {
	baseDir string
	name    string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a storage adapter rooted at baseDir, creating the
// directory when it does not exist.
func NewLocalAdapter(baseDir, name string) (storageAdapter.StorageConnection, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': baseDir must be specified", name)
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(baseDir, 0755); err != nil {
				return nil, fmt.Errorf("local storage adapter '%s': failed to create baseDir '%s': %w", name, baseDir, err)
			}
		} else {
			return nil, fmt.Errorf("local storage adapter '%s': failed to stat baseDir '%s': %w", name, baseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter '%s': baseDir '%s' is not a directory", name, baseDir)
	}

	return &localAdapter{baseDir: baseDir, name: name}, nil
}

// Upload writes the object under baseDir. The bucket is treated as a
// subdirectory when present.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", filepath.Dir(fullPath), err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

func (a *localAdapter) Type() string { return ProviderType }
func (a *localAdapter) Name() string { return a.name }

func (a *localAdapter) Close() error {
	logger.Debugf("Local storage adapter '%s' closed.", a.name)
	return nil
}

// resolvePath joins bucket and object under baseDir, rejecting traversal out
// of the base directory.
func (a *localAdapter) resolvePath(bucket, objectName string) (string, error) {
	full := filepath.Join(a.baseDir, bucket, objectName)
	base, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object path '%s' escapes base directory", objectName)
	}
	return full, nil
}
