package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/google/uuid"
)

// Backend stores slice data under flat string keys.
type Backend interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error
	// Get reads length bytes starting at off. A negative length reads
	// to the end of the object.
	Get(ctx context.Context, key string, off, length int64) ([]byte, error)
	// Delete removes the object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// ErrObjectNotFound is returned by Get for a key with no object.
var ErrObjectNotFound = errors.New("storage: object not found")

const (
	LocalBackendType = "local"
	S3BackendType    = "s3"
)

type Config struct {
	Type  string      `json:"type"`
	Local LocalConfig `json:"local"`
	S3    S3Config    `json:"s3"`
}

type LocalConfig struct {
	Root string `json:"root"`
}

// NewBackend builds the backend named by cfg.Type.
func NewBackend(ctx context.Context, cfg *Config) (Backend, error) {
	switch cfg.Type {
	case LocalBackendType:
		return NewLocalBackend(cfg.Local.Root)
	case S3BackendType:
		return NewS3Backend(ctx, &cfg.S3)
	default:
		return nil, errors.New("unknown storage backend type: " + cfg.Type)
	}
}

// LocalBackend keeps objects as plain files under a root directory, one
// file per key with slashes mapped to directories.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Info(err, "create storage root failed")
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Put writes to a scratch file first and renames it into place, so a
// reader never observes a half-written object.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte) error {
	path := b.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Info(err, "create object dir failed")
	}

	tmp := path + ".tmp." + uuid.New().String()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Info(err, "write object failed")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Info(err, "rename object failed")
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, key string, off, length int64) ([]byte, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, errors.Info(err, "open object failed")
	}
	defer f.Close()

	if length < 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, errors.Info(err, "stat object failed")
		}
		length = info.Size() - off
		if length < 0 {
			length = 0
		}
	}

	data := make([]byte, length)
	n, err := f.ReadAt(data, off)
	if err != nil && err != io.EOF {
		return nil, errors.Info(err, "read object failed")
	}
	return data[:n], nil
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Info(err, "remove object failed")
	}
	return nil
}
