package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/nebulastore/metadb/errors"
	"github.com/nebulastore/metadb/partition"
	"github.com/nebulastore/metadb/proto"
)

type Config struct {
	Partitions []partition.Config `json:"partitions"`
	// Consensus is accepted for config compatibility and ignored; this
	// core runs unreplicated.
	Consensus json.RawMessage `json:"consensus,omitempty"`
}

// Router maps paths and inos onto partitions and drives every metadata
// mutation through them. It keeps no state of its own beyond the
// partition table, so any number of routers can front the same
// partitions.
type Router struct {
	partitions []*partition.Partition
	lock       sync.RWMutex

	createGroup singleflight.Group
}

// NewRouter opens every configured partition and makes sure the root
// directory exists.
func NewRouter(ctx context.Context, cfg *Config) (*Router, error) {
	if len(cfg.Partitions) == 0 {
		return nil, errors.New("no partitions configured")
	}

	r := &Router{}
	for i := range cfg.Partitions {
		p, err := partition.NewPartition(ctx, &cfg.Partitions[i])
		if err != nil {
			for _, opened := range r.partitions {
				opened.Close()
			}
			return nil, errors.Info(err, "open partition failed")
		}
		r.partitions = append(r.partitions, p)
	}
	r.sortPartitions()

	if err := r.ensureRoot(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Router) sortPartitions() {
	sort.Slice(r.partitions, func(i, j int) bool {
		return r.partitions[i].StartIno() < r.partitions[j].StartIno()
	})
}

func (r *Router) ensureRoot(ctx context.Context) error {
	p := r.LocatePartition(ctx, proto.RootIno)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	_, err := p.Lookup(ctx, proto.RootIno)
	if err == nil {
		return nil
	}
	if err != apierrors.ErrInoDoesNotExist {
		return err
	}

	now := uint64(time.Now().Unix())
	_, err = p.CreateInode(ctx, &proto.InodeAttr{
		Ino:   proto.RootIno,
		Mode:  proto.ModeDir | 0o755,
		Mtime: now,
		Ctime: now,
	})
	if err != nil && err != apierrors.ErrInoAlreadyExists {
		return errors.Info(err, "create root inode failed")
	}
	return nil
}

// AddPartition registers an already opened partition, keeping the table
// sorted by range.
func (r *Router) AddPartition(p *partition.Partition) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.partitions = append(r.partitions, p)
	r.sortPartitions()
}

// Partitions returns a snapshot of the partition table.
func (r *Router) Partitions() []*partition.Partition {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]*partition.Partition(nil), r.partitions...)
}

// LocatePartition returns the partition whose range covers ino. An ino
// outside every range falls back to the first partition so that lookups
// fail with a proper not-exist error instead of a routing error.
func (r *Router) LocatePartition(ctx context.Context, ino uint64) *partition.Partition {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if len(r.partitions) == 0 {
		return nil
	}
	for _, p := range r.partitions {
		if p.Contains(ino) {
			return p
		}
	}
	trace.SpanFromContextSafe(ctx).Warnf("ino %d matches no partition range, falling back to the first", ino)
	return r.partitions[0]
}

// CheckSplit splits every partition that has grown past its threshold
// and registers the new halves.
func (r *Router) CheckSplit(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	for _, p := range r.Partitions() {
		if !p.ShouldSplit() {
			continue
		}
		newPart, err := p.Split(ctx)
		if err != nil {
			span.Errorf("split partition [%d, %d) failed: %s", p.StartIno(), p.EndIno(), err)
			return err
		}
		r.AddPartition(newPart)
	}
	return nil
}

// ParsePath splits a slash-separated absolute path into its components.
// Repeated and trailing slashes are tolerated; an empty path or "/"
// yields no components.
func ParsePath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, apierrors.ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if part == "." || part == ".." {
			return nil, apierrors.ErrInvalidPath
		}
		names = append(names, part)
	}
	return names, nil
}

// Resolve walks path from the root and returns the ino it names.
func (r *Router) Resolve(ctx context.Context, path string) (uint64, error) {
	names, err := ParsePath(path)
	if err != nil {
		return 0, err
	}
	return r.resolveNames(ctx, names)
}

func (r *Router) resolveNames(ctx context.Context, names []string) (uint64, error) {
	cur := proto.RootIno
	for _, name := range names {
		p := r.LocatePartition(ctx, cur)
		if p == nil {
			return 0, apierrors.ErrNoPartition
		}
		attr, err := p.Lookup(ctx, cur)
		if err != nil {
			return 0, err
		}
		if !attr.Mode.IsDir() {
			return 0, apierrors.ErrNotDirectory
		}
		dentry, err := p.LookupDentry(ctx, cur, name)
		if err != nil {
			if err == apierrors.ErrDentryDoesNotExist {
				return 0, apierrors.ErrPathDoesNotExist
			}
			return 0, err
		}
		cur = dentry.Ino
	}
	return cur, nil
}

// resolveParent splits path into its parent directory ino and last
// component.
func (r *Router) resolveParent(ctx context.Context, path string) (uint64, string, error) {
	names, err := ParsePath(path)
	if err != nil {
		return 0, "", err
	}
	if len(names) == 0 {
		return 0, "", apierrors.ErrInvalidPath
	}
	parent, err := r.resolveNames(ctx, names[:len(names)-1])
	if err != nil {
		return 0, "", err
	}
	return parent, names[len(names)-1], nil
}

// GetAttr returns the attributes of the inode path names.
func (r *Router) GetAttr(ctx context.Context, path string) (*proto.InodeAttr, error) {
	ino, err := r.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.GetAttrByIno(ctx, ino)
}

// GetAttrByIno returns the attributes of ino.
func (r *Router) GetAttrByIno(ctx context.Context, ino uint64) (*proto.InodeAttr, error) {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return nil, apierrors.ErrNoPartition
	}
	return p.Lookup(ctx, ino)
}

// SetAttr applies the masked fields of attr to the inode path names.
func (r *Router) SetAttr(ctx context.Context, path string, attr *proto.InodeAttr, toSet uint32) (*proto.InodeAttr, error) {
	ino, err := r.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.SetAttrByIno(ctx, ino, attr, toSet)
}

// SetAttrByIno applies the masked fields of attr to ino.
func (r *Router) SetAttrByIno(ctx context.Context, ino uint64, attr *proto.InodeAttr, toSet uint32) (*proto.InodeAttr, error) {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return nil, apierrors.ErrNoPartition
	}
	return p.SetAttr(ctx, ino, attr, toSet)
}

// Create makes a new file at path with the given mode. The inode and the
// dentry land in one transaction on the parent's partition. Concurrent
// creates of the same path collapse onto a single attempt; exactly one
// caller gets the new inode, the rest get ErrDentryAlreadyExists.
func (r *Router) Create(ctx context.Context, path string, mode proto.FileMode) (*proto.InodeAttr, error) {
	parent, name, err := r.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.createEntry(ctx, parent, name, mode)
}

// Mkdir makes a new directory at path. The permission bits of mode are
// kept, the type bits are forced to directory.
func (r *Router) Mkdir(ctx context.Context, path string, mode proto.FileMode) (*proto.InodeAttr, error) {
	parent, name, err := r.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.createEntry(ctx, parent, name, proto.ModeDir|(mode&^proto.ModeTypeMask))
}

func (r *Router) createEntry(ctx context.Context, parent uint64, name string, mode proto.FileMode) (*proto.InodeAttr, error) {
	if mode&proto.ModeTypeMask == 0 {
		mode |= proto.ModeRegular
	}

	key := fmt.Sprintf("%d/%s", parent, name)
	var leader bool
	v, err, _ := r.createGroup.Do(key, func() (interface{}, error) {
		leader = true
		p := r.LocatePartition(ctx, parent)
		if p == nil {
			return nil, apierrors.ErrNoPartition
		}
		pAttr, err := p.Lookup(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !pAttr.Mode.IsDir() {
			return nil, apierrors.ErrNotDirectory
		}

		txn := p.NewTransaction()
		defer txn.Rollback()

		now := uint64(time.Now().Unix())
		attr, err := txn.CreateInode(ctx, &proto.InodeAttr{
			Mode:  mode,
			Mtime: now,
			Ctime: now,
		})
		if err != nil {
			return nil, err
		}
		if err := txn.CreateDentry(ctx, parent, &proto.Dentry{
			Name: name,
			Ino:  attr.Ino,
			Type: mode.Type(),
		}); err != nil {
			return nil, err
		}
		if err := txn.Commit(ctx); err != nil {
			return nil, err
		}
		return attr, nil
	})
	if err != nil {
		return nil, err
	}
	if !leader {
		// collapsed onto another caller's create; the entry exists now
		return nil, apierrors.ErrDentryAlreadyExists
	}
	return v.(*proto.InodeAttr), nil
}

// Unlink removes the file at path along with its inode and layout.
func (r *Router) Unlink(ctx context.Context, path string) error {
	parent, name, err := r.resolveParent(ctx, path)
	if err != nil {
		return err
	}

	p := r.LocatePartition(ctx, parent)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	dentry, err := p.LookupDentry(ctx, parent, name)
	if err != nil {
		return err
	}
	if dentry.Type == proto.FileTypeDirectory {
		return apierrors.ErrIsDirectory
	}

	if err := p.DeleteDentry(ctx, parent, name); err != nil {
		return err
	}
	return r.deleteInode(ctx, dentry.Ino)
}

// Rmdir removes the empty directory at path.
func (r *Router) Rmdir(ctx context.Context, path string) error {
	parent, name, err := r.resolveParent(ctx, path)
	if err != nil {
		return err
	}

	p := r.LocatePartition(ctx, parent)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	dentry, err := p.LookupDentry(ctx, parent, name)
	if err != nil {
		return err
	}
	if dentry.Type != proto.FileTypeDirectory {
		return apierrors.ErrNotDirectory
	}

	target := r.LocatePartition(ctx, dentry.Ino)
	if target == nil {
		return apierrors.ErrNoPartition
	}
	children, err := target.ListDentries(ctx, dentry.Ino, "", 1)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return apierrors.ErrDirectoryNotEmpty
	}

	if err := p.DeleteDentry(ctx, parent, name); err != nil {
		return err
	}
	return r.deleteInode(ctx, dentry.Ino)
}

func (r *Router) deleteInode(ctx context.Context, ino uint64) error {
	span := trace.SpanFromContextSafe(ctx)
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	if err := p.DeleteInode(ctx, ino); err != nil {
		// the dentry is already gone; the inode stays orphaned
		span.Errorf("delete inode %d failed, leaving it orphaned: %s", ino, err)
		return err
	}
	return nil
}

// Rename moves the entry at srcPath to dstPath. The destination dentry
// is written before the source is removed, so a crash in between leaves
// both names pointing at the inode rather than neither.
func (r *Router) Rename(ctx context.Context, srcPath, dstPath string) error {
	span := trace.SpanFromContextSafe(ctx)

	srcParent, srcName, err := r.resolveParent(ctx, srcPath)
	if err != nil {
		return err
	}
	dstParent, dstName, err := r.resolveParent(ctx, dstPath)
	if err != nil {
		return err
	}

	srcPart := r.LocatePartition(ctx, srcParent)
	dstPart := r.LocatePartition(ctx, dstParent)
	if srcPart == nil || dstPart == nil {
		return apierrors.ErrNoPartition
	}

	dentry, err := srcPart.LookupDentry(ctx, srcParent, srcName)
	if err != nil {
		return err
	}

	dstAttr, err := dstPart.Lookup(ctx, dstParent)
	if err != nil {
		return err
	}
	if !dstAttr.Mode.IsDir() {
		return apierrors.ErrNotDirectory
	}

	if err := dstPart.CreateDentry(ctx, dstParent, &proto.Dentry{
		Name: dstName,
		Ino:  dentry.Ino,
		Type: dentry.Type,
	}); err != nil {
		return err
	}
	if err := srcPart.DeleteDentry(ctx, srcParent, srcName); err != nil {
		span.Warnf("rename %s -> %s: source dentry removal failed, both names remain: %s", srcPath, dstPath, err)
		return err
	}
	return nil
}

// ReadDir lists the entries of the directory at path, starting at
// startName, at most limit of them. A zero limit means no bound.
func (r *Router) ReadDir(ctx context.Context, path string, startName string, limit int) ([]*proto.Dentry, error) {
	ino, err := r.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return nil, apierrors.ErrNoPartition
	}
	attr, err := p.Lookup(ctx, ino)
	if err != nil {
		return nil, err
	}
	if !attr.Mode.IsDir() {
		return nil, apierrors.ErrNotDirectory
	}
	return p.ListDentries(ctx, ino, startName, limit)
}

// GetLayout returns the file layout of ino.
func (r *Router) GetLayout(ctx context.Context, ino uint64) (*proto.FileLayout, error) {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return nil, apierrors.ErrNoPartition
	}
	return p.GetLayout(ctx, ino)
}

// UpdateSize grows ino to size and touches its mtime. A size at or below
// the current one only updates the mtime.
func (r *Router) UpdateSize(ctx context.Context, ino uint64, size uint64) error {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	attr, err := p.Lookup(ctx, ino)
	if err != nil {
		return err
	}

	update := &proto.InodeAttr{Mtime: uint64(time.Now().Unix())}
	toSet := uint32(proto.AttrMtime)
	if size > attr.Size {
		update.Size = size
		toSet |= proto.AttrSize
	}
	_, err = p.SetAttr(ctx, ino, update, toSet)
	return err
}

// GetSliceRange returns the slices backing [start, end) of ino.
func (r *Router) GetSliceRange(ctx context.Context, ino uint64, keyPrefix string, start, end uint64) ([]partition.SliceRead, error) {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return nil, apierrors.ErrNoPartition
	}
	return p.GetSliceRange(ctx, ino, keyPrefix, start, end)
}

// AddSlice merges one write into the layout of ino.
func (r *Router) AddSlice(ctx context.Context, ino uint64, keyPrefix string, pos, id, size, off, length uint64) error {
	p := r.LocatePartition(ctx, ino)
	if p == nil {
		return apierrors.ErrNoPartition
	}
	return p.AddSlice(ctx, ino, keyPrefix, pos, id, size, off, length)
}

// Close closes every partition.
func (r *Router) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, p := range r.partitions {
		p.Close()
	}
	r.partitions = nil
}
