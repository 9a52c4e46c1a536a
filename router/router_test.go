package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebulastore/metadb/common/kvstore"
	apierrors "github.com/nebulastore/metadb/errors"
	"github.com/nebulastore/metadb/partition"
	"github.com/nebulastore/metadb/proto"
)

func newTestRouter(t *testing.T) *Router {
	r, err := NewRouter(context.Background(), &Config{
		Partitions: []partition.Config{
			{StartIno: 1, EndIno: 1 << 20, KVType: kvstore.MemoryKVType},
		},
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestParsePath(t *testing.T) {
	names, err := ParsePath("/a/b/c")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, names)

	names, err = ParsePath("/")
	require.NoError(t, err)
	require.Equal(t, 0, len(names))

	names, err = ParsePath("//a//b/")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	_, err = ParsePath("")
	require.Equal(t, apierrors.ErrInvalidPath, err)
	_, err = ParsePath("relative/path")
	require.Equal(t, apierrors.ErrInvalidPath, err)
	_, err = ParsePath("/a/../b")
	require.Equal(t, apierrors.ErrInvalidPath, err)
	_, err = ParsePath("/a/./b")
	require.Equal(t, apierrors.ErrInvalidPath, err)
}

func TestRouterRoot(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	attr, err := r.GetAttr(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, proto.RootIno, attr.Ino)
	require.True(t, attr.Mode.IsDir())
}

func TestRouterCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	dir, err := r.Mkdir(ctx, "/docs", 0o755)
	require.NoError(t, err)
	require.True(t, dir.Mode.IsDir())

	file, err := r.Create(ctx, "/docs/report.txt", proto.ModeRegular|0o644)
	require.NoError(t, err)
	require.True(t, file.Mode.IsRegular())

	ino, err := r.Resolve(ctx, "/docs/report.txt")
	require.NoError(t, err)
	require.Equal(t, file.Ino, ino)

	attr, err := r.GetAttr(ctx, "/docs/report.txt")
	require.NoError(t, err)
	require.Equal(t, file.Ino, attr.Ino)

	_, err = r.Resolve(ctx, "/docs/missing.txt")
	require.Equal(t, apierrors.ErrPathDoesNotExist, err)
	_, err = r.Resolve(ctx, "/nope/report.txt")
	require.Equal(t, apierrors.ErrPathDoesNotExist, err)

	// a file in the middle of the path is not traversable
	_, err = r.Resolve(ctx, "/docs/report.txt/x")
	require.Equal(t, apierrors.ErrNotDirectory, err)
}

func TestRouterCreateExisting(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Create(ctx, "/a.txt", proto.ModeRegular|0o644)
	require.NoError(t, err)
	_, err = r.Create(ctx, "/a.txt", proto.ModeRegular|0o644)
	require.Equal(t, apierrors.ErrDentryAlreadyExists, err)
}

func TestRouterMkdirForcesDirType(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	attr, err := r.Mkdir(ctx, "/d", proto.ModeRegular|0o700)
	require.NoError(t, err)
	require.True(t, attr.Mode.IsDir())
	require.Equal(t, proto.FileMode(0o700), attr.Mode&^proto.ModeTypeMask)
}

func TestRouterSetAttr(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Create(ctx, "/f", proto.ModeRegular|0o644)
	require.NoError(t, err)

	attr, err := r.SetAttr(ctx, "/f", &proto.InodeAttr{Size: 999, Uid: 42}, proto.AttrSize|proto.AttrUid)
	require.NoError(t, err)
	require.Equal(t, uint64(999), attr.Size)
	require.Equal(t, uint32(42), attr.Uid)

	got, err := r.GetAttr(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, uint64(999), got.Size)
}

func TestRouterUnlink(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	file, err := r.Create(ctx, "/f", proto.ModeRegular|0o644)
	require.NoError(t, err)
	_, err = r.Mkdir(ctx, "/d", 0o755)
	require.NoError(t, err)

	require.Equal(t, apierrors.ErrIsDirectory, r.Unlink(ctx, "/d"))

	require.NoError(t, r.Unlink(ctx, "/f"))
	_, err = r.Resolve(ctx, "/f")
	require.Equal(t, apierrors.ErrPathDoesNotExist, err)
	_, err = r.GetAttrByIno(ctx, file.Ino)
	require.Equal(t, apierrors.ErrInoDoesNotExist, err)
}

func TestRouterRmdir(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Mkdir(ctx, "/d", 0o755)
	require.NoError(t, err)
	_, err = r.Create(ctx, "/d/f", proto.ModeRegular|0o644)
	require.NoError(t, err)
	_, err = r.Create(ctx, "/f", proto.ModeRegular|0o644)
	require.NoError(t, err)

	require.Equal(t, apierrors.ErrDirectoryNotEmpty, r.Rmdir(ctx, "/d"))
	require.Equal(t, apierrors.ErrNotDirectory, r.Rmdir(ctx, "/f"))

	require.NoError(t, r.Unlink(ctx, "/d/f"))
	require.NoError(t, r.Rmdir(ctx, "/d"))
	_, err = r.Resolve(ctx, "/d")
	require.Equal(t, apierrors.ErrPathDoesNotExist, err)
}

func TestRouterRename(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	file, err := r.Create(ctx, "/old", proto.ModeRegular|0o644)
	require.NoError(t, err)
	_, err = r.Mkdir(ctx, "/dst", 0o755)
	require.NoError(t, err)

	require.NoError(t, r.Rename(ctx, "/old", "/dst/new"))

	ino, err := r.Resolve(ctx, "/dst/new")
	require.NoError(t, err)
	require.Equal(t, file.Ino, ino)
	_, err = r.Resolve(ctx, "/old")
	require.Equal(t, apierrors.ErrPathDoesNotExist, err)

	// destination name taken
	_, err = r.Create(ctx, "/other", proto.ModeRegular|0o644)
	require.NoError(t, err)
	require.Equal(t, apierrors.ErrDentryAlreadyExists, r.Rename(ctx, "/other", "/dst/new"))
}

func TestRouterReadDir(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Mkdir(ctx, "/d", 0o755)
	require.NoError(t, err)
	for _, name := range []string{"c", "a", "b"} {
		_, err := r.Create(ctx, "/d/"+name, proto.ModeRegular|0o644)
		require.NoError(t, err)
	}

	entries, err := r.ReadDir(ctx, "/d", "", 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(entries))
	require.Equal(t, "a", entries[0].Name)
	require.Equal(t, "b", entries[1].Name)
	require.Equal(t, "c", entries[2].Name)

	page, err := r.ReadDir(ctx, "/d", "b", 10)
	require.NoError(t, err)
	require.Equal(t, 2, len(page))
	require.Equal(t, "b", page[0].Name)

	_, err = r.ReadDir(ctx, "/d/a", "", 0)
	require.Equal(t, apierrors.ErrNotDirectory, err)
}

func TestRouterMultiplePartitions(t *testing.T) {
	ctx := context.Background()
	r, err := NewRouter(ctx, &Config{
		Partitions: []partition.Config{
			{StartIno: 1000, EndIno: 2000, KVType: kvstore.MemoryKVType},
			{StartIno: 1, EndIno: 1000, KVType: kvstore.MemoryKVType},
		},
	})
	require.NoError(t, err)
	defer r.Close()

	// sorted on open regardless of config order
	parts := r.Partitions()
	require.Equal(t, uint64(1), parts[0].StartIno())
	require.Equal(t, uint64(1000), parts[1].StartIno())

	require.Same(t, parts[0], r.LocatePartition(ctx, 500))
	require.Same(t, parts[1], r.LocatePartition(ctx, 1500))
	// out of every range falls back to the first partition
	require.Same(t, parts[0], r.LocatePartition(ctx, 5000))
}

func TestRouterCheckSplit(t *testing.T) {
	ctx := context.Background()
	r, err := NewRouter(ctx, &Config{
		Partitions: []partition.Config{
			{StartIno: 1, EndIno: 1000, KVType: kvstore.MemoryKVType, SplitThreshold: 5},
		},
	})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 10; i++ {
		_, err := r.Create(ctx, fmt.Sprintf("/f%d", i), proto.ModeRegular|0o644)
		require.NoError(t, err)
	}

	require.NoError(t, r.CheckSplit(ctx))
	parts := r.Partitions()
	require.Equal(t, 2, len(parts))
	require.Equal(t, uint64(500), parts[0].EndIno())
	require.Equal(t, uint64(500), parts[1].StartIno())

	// everything created before the split still resolves
	for i := 0; i < 10; i++ {
		_, err := r.Resolve(ctx, fmt.Sprintf("/f%d", i))
		require.NoError(t, err)
	}

	// a split partition stays split; the next check changes nothing
	require.NoError(t, r.CheckSplit(ctx))
	require.Equal(t, 2, len(r.Partitions()))
}

func TestRouterConcurrentCreateSamePath(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Create(ctx, "/same", proto.ModeRegular|0o644)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.Equal(t, apierrors.ErrDentryAlreadyExists, err)
		}
	}
	// exactly one caller wins the race, the rest observe Exist
	require.Equal(t, 1, ok)
	entries, err := r.ReadDir(ctx, "/", "", 0)
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
}
