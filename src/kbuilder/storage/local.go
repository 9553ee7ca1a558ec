package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/paths"
)

// LocalConfig holds the local filesystem storage configuration
type LocalConfig struct {
	// BasePath is the export root directory
	BasePath string
}

// LocalBackend stores artifacts in a directory tree
type LocalBackend struct {
	basePath string
}

// NewLocal creates a local backend, creating the base directory
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	basePath, err := filepath.Abs(paths.Expand(cfg.BasePath))
	if err != nil {
		return nil, kerrors.ErrStorageUnavailable.WithCause(err)
	}

	if err := paths.EnsureDirPath(basePath); err != nil {
		return nil, kerrors.ErrStorageUnavailable.WithMessagef("cannot create export directory %s", basePath).WithCause(err)
	}

	return &LocalBackend{basePath: basePath}, nil
}

// fullPath maps key to a path that cannot leave basePath
func (b *LocalBackend) fullPath(key string) string {
	clean := path.Clean("/" + filepath.ToSlash(key))
	return filepath.Join(b.basePath, filepath.FromSlash(clean))
}

// Upload writes the object to <base>/<key>
func (b *LocalBackend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	fullPath := b.fullPath(key)
	if err := paths.EnsureDir(fullPath); err != nil {
		return kerrors.ErrStorageUploadFailed.WithMessagef("cannot create %s", filepath.Dir(fullPath)).WithCause(err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return kerrors.ErrStorageUploadFailed.WithMessagef("cannot create %s", fullPath).WithCause(err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(fullPath)
		return kerrors.ErrStorageUploadFailed.WithMessagef("cannot write %s", fullPath).WithCause(err)
	}
	if size > 0 && written != size {
		os.Remove(fullPath)
		return kerrors.ErrStorageUploadFailed.WithMessagef("size mismatch for %s: expected %d bytes, wrote %d", key, size, written)
	}

	return nil
}

// Exists checks if a file exists
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, kerrors.ErrStorageUnavailable.WithCause(err)
}

// Delete removes a file and any directories it leaves empty
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	fullPath := b.fullPath(key)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return kerrors.ErrStorageUnavailable.WithMessagef("cannot delete %s", fullPath).WithCause(err)
	}

	for dir := filepath.Dir(fullPath); dir != b.basePath && strings.HasPrefix(dir, b.basePath); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// List walks the export tree for keys starting with prefix
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	prefix = strings.TrimPrefix(prefix, "/")

	var objects []ObjectInfo
	err := filepath.WalkDir(b.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, kerrors.ErrStorageUnavailable.WithCause(err)
	}

	return objects, nil
}

// Ping checks the export directory is accessible
func (b *LocalBackend) Ping(ctx context.Context) error {
	if !paths.IsDir(b.basePath) {
		return kerrors.ErrStorageUnavailable.WithMessagef("export directory %s is not accessible", b.basePath)
	}
	return nil
}

// URL returns the filesystem path of key
func (b *LocalBackend) URL(key string) string {
	return b.fullPath(key)
}

// Type returns the storage backend type
func (b *LocalBackend) Type() string {
	return TypeLocal
}

// Location returns the base path
func (b *LocalBackend) Location() string {
	return b.basePath
}
