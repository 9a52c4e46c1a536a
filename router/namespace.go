package router

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/nebulastore/metadb/errors"
	"github.com/nebulastore/metadb/proto"
	"github.com/nebulastore/metadb/storage"
)

const s3Scheme = "s3://"

// ConvertPath normalizes an object-style location into the posix path
// the router understands. "s3://bucket/a/b" maps to "/bucket/a/b";
// absolute posix paths pass through untouched.
func ConvertPath(path string) (string, error) {
	if strings.HasPrefix(path, s3Scheme) {
		rest := path[len(s3Scheme):]
		if rest == "" {
			return "", apierrors.ErrInvalidPath
		}
		return "/" + rest, nil
	}
	if path != "" && path[0] == '/' {
		return path, nil
	}
	return "", apierrors.ErrInvalidPath
}

// Namespace bridges data access onto the metadata tree. Writes land as
// slice objects in the backend and merge into the file's layout; reads
// stitch the layout's slices back together, zero-filling holes.
type Namespace struct {
	router  *Router
	backend storage.Backend

	sliceID uint64
}

// NewNamespace wraps the router and the slice backend. The slice id
// counter is seeded from the clock so object keys stay unique across
// restarts.
func NewNamespace(router *Router, backend storage.Backend) *Namespace {
	return &Namespace{
		router:  router,
		backend: backend,
		sliceID: uint64(time.Now().UnixNano()),
	}
}

func (n *Namespace) nextSliceID() uint64 {
	return atomic.AddUint64(&n.sliceID, 1)
}

func sliceKeyPrefix(ino uint64) string {
	return fmt.Sprintf("chunks/%d", ino)
}

// GetAttr returns the attributes of the entry at path, in either path
// spelling.
func (n *Namespace) GetAttr(ctx context.Context, path string) (*proto.InodeAttr, error) {
	posixPath, err := ConvertPath(path)
	if err != nil {
		return nil, err
	}
	return n.router.GetAttr(ctx, posixPath)
}

// ReadDir lists the directory at path.
func (n *Namespace) ReadDir(ctx context.Context, path string, startName string, limit int) ([]*proto.Dentry, error) {
	posixPath, err := ConvertPath(path)
	if err != nil {
		return nil, err
	}
	return n.router.ReadDir(ctx, posixPath, startName, limit)
}

// GetLayout returns the slice layout of the file at path.
func (n *Namespace) GetLayout(ctx context.Context, path string) (*proto.FileLayout, error) {
	posixPath, err := ConvertPath(path)
	if err != nil {
		return nil, err
	}
	ino, err := n.router.Resolve(ctx, posixPath)
	if err != nil {
		return nil, err
	}
	return n.router.GetLayout(ctx, ino)
}

// Write stores data at byte offset off of the file at path, creating the
// file on first write. The data lands as one new slice; whatever older
// slices it covers stop being visible once the layout is updated.
func (n *Namespace) Write(ctx context.Context, path string, off uint64, data []byte) error {
	posixPath, err := ConvertPath(path)
	if err != nil {
		return err
	}

	ino, err := n.router.Resolve(ctx, posixPath)
	if err == apierrors.ErrPathDoesNotExist {
		attr, cerr := n.router.Create(ctx, posixPath, proto.ModeRegular|0o644)
		if cerr != nil {
			return cerr
		}
		ino = attr.Ino
	} else if err != nil {
		return err
	}

	attr, err := n.router.GetAttrByIno(ctx, ino)
	if err != nil {
		return err
	}
	if attr.Mode.IsDir() {
		return apierrors.ErrIsDirectory
	}

	id := n.nextSliceID()
	prefix := sliceKeyPrefix(ino)
	key := fmt.Sprintf("%s/%d", prefix, id)
	if err := n.backend.Put(ctx, key, data); err != nil {
		return err
	}

	length := uint64(len(data))
	if err := n.router.AddSlice(ctx, ino, prefix, off, id, length, 0, length); err != nil {
		return err
	}

	return n.router.UpdateSize(ctx, ino, off+length)
}

// Read returns up to length bytes starting at byte offset off of the
// file at path. Ranges no slice covers read as zeroes; reads past the
// end of the file are truncated.
func (n *Namespace) Read(ctx context.Context, path string, off uint64, length uint64) ([]byte, error) {
	posixPath, err := ConvertPath(path)
	if err != nil {
		return nil, err
	}

	ino, err := n.router.Resolve(ctx, posixPath)
	if err != nil {
		return nil, err
	}
	attr, err := n.router.GetAttrByIno(ctx, ino)
	if err != nil {
		return nil, err
	}
	if attr.Mode.IsDir() {
		return nil, apierrors.ErrIsDirectory
	}

	if off >= attr.Size {
		return nil, nil
	}
	if off+length > attr.Size {
		length = attr.Size - off
	}

	end := off + length
	slices, err := n.router.GetSliceRange(ctx, ino, sliceKeyPrefix(ino), off, end)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	for i := range slices {
		s := &slices[i]
		sEnd := s.Pos + s.Len

		readStart := s.Pos
		if off > readStart {
			readStart = off
		}
		readEnd := sEnd
		if end < readEnd {
			readEnd = end
		}
		if readStart >= readEnd {
			continue
		}

		data, err := n.backend.Get(ctx, s.StorageKey, int64(s.Off+(readStart-s.Pos)), int64(readEnd-readStart))
		if err != nil {
			return nil, err
		}
		copy(buf[readStart-off:], data)
	}
	return buf, nil
}

// Delete unlinks the file at path and removes its slice objects from the
// backend. Object removal happens after the metadata is gone; leaked
// objects are logged, never resurrected.
func (n *Namespace) Delete(ctx context.Context, path string) error {
	span := trace.SpanFromContextSafe(ctx)

	posixPath, err := ConvertPath(path)
	if err != nil {
		return err
	}

	ino, err := n.router.Resolve(ctx, posixPath)
	if err != nil {
		return err
	}
	layout, err := n.router.GetLayout(ctx, ino)
	if err != nil {
		return err
	}

	if err := n.router.Unlink(ctx, posixPath); err != nil {
		return err
	}

	for i := range layout.Slices {
		if err := n.backend.Delete(ctx, layout.Slices[i].StorageKey); err != nil {
			span.Warnf("delete slice object %s failed: %s", layout.Slices[i].StorageKey, err)
		}
	}
	return nil
}
