package partition

import (
	"context"
	"hash/crc32"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/nebulastore/metadb/common/kvstore"
	apierrors "github.com/nebulastore/metadb/errors"
	"github.com/nebulastore/metadb/proto"
	"github.com/nebulastore/metadb/util"
)

const (
	keyLocksNum = 1024

	defaultSplitThreshold = 1e9
)

// Scale mode. A standalone partition may split once; splitting moves it
// to distributed mode, where it serves its narrowed range and never
// splits again.
const (
	modeStandalone uint32 = iota
	modeDistributed
)

// Config carries the static identity of one partition. StartIno is
// inclusive, EndIno exclusive.
type Config struct {
	StartIno       uint64         `json:"start_ino"`
	EndIno         uint64         `json:"end_ino"`
	Path           string         `json:"path"`
	KVType         kvstore.KVType `json:"kv_type"`
	SplitThreshold uint64         `json:"split_threshold"`
}

// Partition owns the inode range [StartIno, EndIno): attributes, dentries
// and file layouts of every inode in the range, cached in memory and
// persisted through the kv store. Mutations on the same parent are
// serialized through hashed key locks.
type Partition struct {
	startIno       uint64
	endIno         uint64
	inoCursor      uint64
	splitThreshold uint64
	mode           uint32

	store     kvstore.Store
	ownsStore bool
	index     atomic.Pointer[MemoryIndex]

	trees      map[uint64]*SliceTree
	chunkSizes map[uint64]uint64
	treeMu     sync.Mutex

	keyLocks [keyLocksNum]sync.Mutex
}

// NewPartition opens the kv store at cfg.Path and warms the in-memory
// index from whatever the store already holds for the range.
func NewPartition(ctx context.Context, cfg *Config) (*Partition, error) {
	if cfg.StartIno == 0 || cfg.EndIno <= cfg.StartIno {
		return nil, errors.New("invalid partition range")
	}
	if cfg.SplitThreshold == 0 {
		cfg.SplitThreshold = defaultSplitThreshold
	}

	store, err := kvstore.NewKVStore(ctx, cfg.Path, cfg.KVType)
	if err != nil {
		return nil, errors.Info(err, "open kv store failed")
	}

	p := &Partition{
		startIno:       cfg.StartIno,
		endIno:         cfg.EndIno,
		splitThreshold: cfg.SplitThreshold,
		store:          store,
		ownsStore:      true,
		trees:          make(map[uint64]*SliceTree),
		chunkSizes:     make(map[uint64]uint64),
	}
	if err := p.loadIndex(ctx); err != nil {
		store.Close()
		return nil, errors.Info(err, "load index failed")
	}
	return p, nil
}

// newPartitionWithStore opens a partition over an already open store.
// Split children are created this way; they never own the store.
func newPartitionWithStore(ctx context.Context, startIno, endIno, splitThreshold uint64, store kvstore.Store) (*Partition, error) {
	p := &Partition{
		startIno:       startIno,
		endIno:         endIno,
		splitThreshold: splitThreshold,
		store:          store,
		trees:          make(map[uint64]*SliceTree),
		chunkSizes:     make(map[uint64]uint64),
	}
	if err := p.loadIndex(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// loadIndex scans the persisted inodes of the range into a fresh cache
// and advances the ino cursor past the highest one found. The cursor
// starts past the root ino so the root can be created with an explicit
// ino. The cache is swapped in whole, so concurrent readers see either
// the old index or the fully loaded new one.
func (p *Partition) loadIndex(ctx context.Context) error {
	cursor := p.startIno - 1
	if p.startIno <= proto.RootIno {
		cursor = proto.RootIno
	}

	index := NewMemoryIndex()
	start := encodeInoKey(p.startIno)
	end := encodeInoKey(atomic.LoadUint64(&p.endIno))
	kvs, err := p.store.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}
	for i := range kvs {
		attr, err := decodeInodeValue(kvs[i].Value)
		if err != nil {
			return errors.Info(err, "decode inode value failed")
		}
		index.PutInode(attr)
		if attr.Ino > cursor {
			cursor = attr.Ino
		}
	}
	p.index.Store(index)
	atomic.StoreUint64(&p.inoCursor, cursor)
	return nil
}

func (p *Partition) StartIno() uint64 { return p.startIno }
func (p *Partition) EndIno() uint64   { return atomic.LoadUint64(&p.endIno) }

// Contains reports whether ino falls inside the partition's range.
func (p *Partition) Contains(ino uint64) bool {
	return ino >= p.startIno && ino < atomic.LoadUint64(&p.endIno)
}

// InodeCount returns the number of cached inodes. The index is warmed at
// open and kept in step with every mutation, so this tracks the
// persisted count.
func (p *Partition) InodeCount() uint64 {
	return p.index.Load().InodeCount()
}

// ShouldSplit reports whether the partition is still standalone and has
// grown past its split threshold. A partition that already split stays
// distributed and never re-reports.
func (p *Partition) ShouldSplit() bool {
	return atomic.LoadUint32(&p.mode) == modeStandalone && p.InodeCount() > p.splitThreshold
}

func (p *Partition) nextIno() (uint64, error) {
	end := atomic.LoadUint64(&p.endIno)
	for {
		cur := atomic.LoadUint64(&p.inoCursor)
		if cur+1 >= end {
			return 0, apierrors.ErrInoOutOfRange
		}
		newIno := cur + 1
		if atomic.CompareAndSwapUint64(&p.inoCursor, cur, newIno) {
			return newIno, nil
		}
	}
}

func (p *Partition) getKeyLock(key []byte) *sync.Mutex {
	h := crc32.NewIEEE()
	h.Write(key)
	return &p.keyLocks[h.Sum32()%keyLocksNum]
}

// Lookup returns the attributes of ino, filling the cache from the store
// on a miss.
func (p *Partition) Lookup(ctx context.Context, ino uint64) (*proto.InodeAttr, error) {
	if !p.Contains(ino) {
		return nil, apierrors.ErrInoOutOfRange
	}

	if attr, ok := p.index.Load().GetInode(ino); ok {
		return attr, nil
	}

	value, err := p.store.Get(ctx, encodeInoKey(ino))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, apierrors.ErrInoDoesNotExist
		}
		return nil, errors.Info(err, "get inode failed")
	}
	attr, err := decodeInodeValue(value)
	if err != nil {
		return nil, err
	}
	p.index.Load().PutInode(attr)
	return attr, nil
}

// LookupDentry returns the dentry name under parent, filling the cache
// from the store on a miss.
func (p *Partition) LookupDentry(ctx context.Context, parent uint64, name string) (*proto.Dentry, error) {
	if !p.Contains(parent) {
		return nil, apierrors.ErrInoOutOfRange
	}

	if dentry, ok := p.index.Load().GetDentry(parent, name); ok {
		return dentry, nil
	}

	value, err := p.store.Get(ctx, encodeDentryKey(parent, name))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, apierrors.ErrDentryDoesNotExist
		}
		return nil, errors.Info(err, "get dentry failed")
	}
	ino, typ, err := decodeDentryValue(value)
	if err != nil {
		return nil, err
	}
	dentry := &proto.Dentry{Name: name, Ino: ino, Type: typ}
	p.index.Load().InsertDentry(parent, dentry)
	return dentry, nil
}

// CreateInode persists a new inode. A zero attr.Ino allocates the next
// ino from the partition's range; a non-zero one is honored after a range
// and existence check.
func (p *Partition) CreateInode(ctx context.Context, attr *proto.InodeAttr) (*proto.InodeAttr, error) {
	txn := p.NewTransaction()
	defer txn.Rollback()

	attr, err := txn.CreateInode(ctx, attr)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, err
	}
	return attr, nil
}

// SetAttr applies the fields of attr selected by the toSet mask to ino
// and persists the result.
func (p *Partition) SetAttr(ctx context.Context, ino uint64, attr *proto.InodeAttr, toSet uint32) (*proto.InodeAttr, error) {
	if !p.Contains(ino) {
		return nil, apierrors.ErrInoOutOfRange
	}

	key := encodeInoKey(ino)
	lock := p.getKeyLock(key)
	lock.Lock()
	defer lock.Unlock()

	cur, err := p.Lookup(ctx, ino)
	if err != nil {
		return nil, err
	}

	if toSet&proto.AttrMode != 0 {
		cur.Mode = attr.Mode
	}
	if toSet&proto.AttrUid != 0 {
		cur.Uid = attr.Uid
	}
	if toSet&proto.AttrGid != 0 {
		cur.Gid = attr.Gid
	}
	if toSet&proto.AttrSize != 0 {
		cur.Size = attr.Size
	}
	if toSet&proto.AttrMtime != 0 {
		cur.Mtime = attr.Mtime
	}

	if err := p.store.SetRaw(ctx, key, encodeInodeValue(cur)); err != nil {
		return nil, errors.Info(err, "set inode failed")
	}
	p.index.Load().PutInode(cur)
	return cur, nil
}

// DeleteInode removes the inode, its dentries and its layout in one
// batch.
func (p *Partition) DeleteInode(ctx context.Context, ino uint64) error {
	span := trace.SpanFromContextSafe(ctx)
	if !p.Contains(ino) {
		return apierrors.ErrInoOutOfRange
	}

	key := encodeInoKey(ino)
	lock := p.getKeyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.Lookup(ctx, ino); err != nil {
		return err
	}

	prefix := encodeDentryKeyPrefix(ino)
	children, err := p.store.Scan(ctx, prefix, util.NextPrefix(prefix), 0)
	if err != nil {
		return errors.Info(err, "scan dentries failed")
	}

	batch := p.store.NewWriteBatch()
	batch.Delete(key)
	batch.Delete(encodeLayoutKey(ino))
	for i := range children {
		batch.Delete(children[i].Key)
	}
	if err := p.store.Write(ctx, batch); err != nil {
		return errors.Info(err, "delete inode failed")
	}

	index := p.index.Load()
	index.DeleteInode(ino)
	for i := range children {
		if _, name, err := decodeDentryKey(children[i].Key); err == nil {
			index.DeleteDentry(ino, name)
		}
	}
	p.dropTree(ino)

	if len(children) > 0 {
		span.Warnf("inode %d deleted with %d dentries left behind", ino, len(children))
	}
	return nil
}

// CreateDentry links dentry.Name under parent. The parent key lock
// closes the window between the existence check and the write.
func (p *Partition) CreateDentry(ctx context.Context, parent uint64, dentry *proto.Dentry) error {
	if !p.Contains(parent) {
		return apierrors.ErrInoOutOfRange
	}

	pKey := encodeInoKey(parent)
	lock := p.getKeyLock(pKey)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.LookupDentry(ctx, parent, dentry.Name); err == nil {
		return apierrors.ErrDentryAlreadyExists
	} else if err != apierrors.ErrDentryDoesNotExist {
		return err
	}

	key := encodeDentryKey(parent, dentry.Name)
	if err := p.store.SetRaw(ctx, key, encodeDentryValue(dentry.Ino, dentry.Type)); err != nil {
		return errors.Info(err, "set dentry failed")
	}
	p.index.Load().InsertDentry(parent, dentry)
	return nil
}

// DeleteDentry unlinks name under parent.
func (p *Partition) DeleteDentry(ctx context.Context, parent uint64, name string) error {
	if !p.Contains(parent) {
		return apierrors.ErrInoOutOfRange
	}

	pKey := encodeInoKey(parent)
	lock := p.getKeyLock(pKey)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.LookupDentry(ctx, parent, name); err != nil {
		return err
	}

	if err := p.store.Delete(ctx, encodeDentryKey(parent, name)); err != nil {
		return errors.Info(err, "delete dentry failed")
	}
	p.index.Load().DeleteDentry(parent, name)
	return nil
}

// ListDentries returns up to limit dentries of parent whose names sort at
// or after startName, in lexicographic order. A zero limit means no
// bound.
func (p *Partition) ListDentries(ctx context.Context, parent uint64, startName string, limit int) ([]*proto.Dentry, error) {
	if !p.Contains(parent) {
		return nil, apierrors.ErrInoOutOfRange
	}

	prefix := encodeDentryKeyPrefix(parent)
	marker := make([]byte, len(prefix)+len(startName))
	copy(marker, prefix)
	copy(marker[len(prefix):], startName)

	kvs, err := p.store.Scan(ctx, marker, util.NextPrefix(prefix), limit)
	if err != nil {
		return nil, errors.Info(err, "scan dentries failed")
	}

	ret := make([]*proto.Dentry, 0, len(kvs))
	for i := range kvs {
		_, name, err := decodeDentryKey(kvs[i].Key)
		if err != nil {
			return nil, err
		}
		ino, typ, err := decodeDentryValue(kvs[i].Value)
		if err != nil {
			return nil, err
		}
		ret = append(ret, &proto.Dentry{Name: name, Ino: ino, Type: typ})
	}
	return ret, nil
}

// GetLayout returns the persisted layout of ino, or an empty layout with
// the default chunk size when none has been written yet.
func (p *Partition) GetLayout(ctx context.Context, ino uint64) (*proto.FileLayout, error) {
	if !p.Contains(ino) {
		return nil, apierrors.ErrInoOutOfRange
	}

	value, err := p.store.Get(ctx, encodeLayoutKey(ino))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return &proto.FileLayout{
				Ino:       ino,
				ChunkSize: proto.DefaultChunkSize,
			}, nil
		}
		return nil, errors.Info(err, "get layout failed")
	}
	return decodeLayoutValue(ino, value)
}

// SetLayout persists the layout as is, replacing whatever was there.
func (p *Partition) SetLayout(ctx context.Context, layout *proto.FileLayout) error {
	if !p.Contains(layout.Ino) {
		return apierrors.ErrInoOutOfRange
	}
	if err := p.store.SetRaw(ctx, encodeLayoutKey(layout.Ino), encodeLayoutValue(layout)); err != nil {
		return errors.Info(err, "set layout failed")
	}
	p.treeMu.Lock()
	delete(p.trees, layout.Ino)
	delete(p.chunkSizes, layout.Ino)
	p.treeMu.Unlock()
	return nil
}

// AddSlice merges one write of length bytes at file position pos into the
// layout of ino and persists the result. keyPrefix names the storage
// location of the file's slices.
func (p *Partition) AddSlice(ctx context.Context, ino uint64, keyPrefix string, pos, id, size, off, length uint64) error {
	if !p.Contains(ino) {
		return apierrors.ErrInoOutOfRange
	}

	p.treeMu.Lock()
	defer p.treeMu.Unlock()

	tree, err := p.loadTreeLocked(ctx, ino)
	if err != nil {
		return err
	}

	tree.Insert(pos, id, size, off, length)
	layout := &proto.FileLayout{
		Ino:       ino,
		ChunkSize: p.chunkSizes[ino],
		Slices:    tree.Build(keyPrefix),
	}
	if err := p.store.SetRaw(ctx, encodeLayoutKey(ino), encodeLayoutValue(layout)); err != nil {
		return errors.Info(err, "set layout failed")
	}
	return nil
}

// SliceRead names one contiguous piece of a read: Len bytes at file
// position Pos, found Off bytes into the object at StorageKey.
type SliceRead struct {
	Pos        uint64
	Off        uint64
	Len        uint64
	StorageKey string
}

// GetSliceRange returns the slices backing [start, end) of ino in
// ascending position order. The in-memory tree keeps the intra-object
// offsets the persisted layout drops, so reads resolve through it.
func (p *Partition) GetSliceRange(ctx context.Context, ino uint64, keyPrefix string, start, end uint64) ([]SliceRead, error) {
	if !p.Contains(ino) {
		return nil, apierrors.ErrInoOutOfRange
	}

	p.treeMu.Lock()
	defer p.treeMu.Unlock()

	tree, err := p.loadTreeLocked(ctx, ino)
	if err != nil {
		return nil, err
	}

	nodes := tree.GetRange(start, end)
	ret := make([]SliceRead, 0, len(nodes))
	for _, node := range nodes {
		ret = append(ret, SliceRead{
			Pos:        node.Pos,
			Off:        node.Off,
			Len:        node.Len,
			StorageKey: keyPrefix + "/" + strconv.FormatUint(node.ID, 10),
		})
	}
	return ret, nil
}

// loadTreeLocked returns the slice tree of ino, rebuilding it from the
// persisted layout on first touch. Rebuilt nodes read their objects from
// offset zero; only the live tree remembers deeper intra-object offsets.
// Callers hold treeMu.
func (p *Partition) loadTreeLocked(ctx context.Context, ino uint64) (*SliceTree, error) {
	if tree, ok := p.trees[ino]; ok {
		return tree, nil
	}
	layout, err := p.GetLayout(ctx, ino)
	if err != nil {
		return nil, err
	}
	tree := &SliceTree{}
	for i := range layout.Slices {
		s := layout.Slices[i]
		tree.Insert(s.Offset, s.ID, s.Size, 0, s.Size)
	}
	p.trees[ino] = tree
	p.chunkSizes[ino] = layout.ChunkSize
	return tree, nil
}

func (p *Partition) dropTree(ino uint64) {
	p.treeMu.Lock()
	delete(p.trees, ino)
	delete(p.chunkSizes, ino)
	p.treeMu.Unlock()
}

// Split halves the partition at the midpoint of its range. The original
// keeps [start, mid), the returned partition serves [mid, end) over the
// same store. Inodes already allocated above the midpoint stay readable
// through the new partition; nothing is migrated. Splitting moves the
// partition to distributed mode, so each partition splits at most once.
func (p *Partition) Split(ctx context.Context) (*Partition, error) {
	span := trace.SpanFromContextSafe(ctx)

	start := p.startIno
	end := atomic.LoadUint64(&p.endIno)
	mid := start + (end-start)/2
	if mid <= start || mid >= end {
		return nil, errors.New("partition range too small to split")
	}

	if !atomic.CompareAndSwapUint32(&p.mode, modeStandalone, modeDistributed) {
		return nil, errors.New("partition already split")
	}

	atomic.StoreUint64(&p.endIno, mid)
	if cur := atomic.LoadUint64(&p.inoCursor); cur >= mid {
		// the cursor already ran past the midpoint; this half is full
		span.Warnf("split partition [%d, %d): cursor %d beyond new end", start, mid, cur)
	}

	newPart, err := newPartitionWithStore(ctx, mid, end, p.splitThreshold, p.store)
	if err != nil {
		atomic.StoreUint64(&p.endIno, end)
		atomic.StoreUint32(&p.mode, modeStandalone)
		return nil, errors.Info(err, "open split partition failed")
	}

	// rebuild the narrowed cache; lookups refill it either way
	if err := p.loadIndex(ctx); err != nil {
		return nil, errors.Info(err, "reload index failed")
	}

	span.Infof("split partition [%d, %d) into [%d, %d) and [%d, %d)", start, end, start, mid, mid, end)
	return newPart, nil
}

// Close releases the kv store if this partition opened it. Split
// children share their parent's store and leave closing to the opener.
func (p *Partition) Close() {
	if p.ownsStore {
		p.store.Close()
	}
}

// Transaction stages inode and dentry creations into one write batch so
// that a multi-step create either lands fully or not at all.
type Transaction struct {
	p     *Partition
	batch kvstore.WriteBatch

	inodes   []*proto.InodeAttr
	dentries []stagedDentry
	done     bool
}

type stagedDentry struct {
	parent uint64
	dentry *proto.Dentry
}

// NewTransaction starts an empty transaction.
func (p *Partition) NewTransaction() *Transaction {
	return &Transaction{
		p:     p,
		batch: p.store.NewWriteBatch(),
	}
}

// CreateInode stages a new inode. A zero attr.Ino allocates from the
// partition range; allocated inos are not returned on rollback, leaving
// gaps, which is fine.
func (t *Transaction) CreateInode(ctx context.Context, attr *proto.InodeAttr) (*proto.InodeAttr, error) {
	if attr.Ino == 0 {
		ino, err := t.p.nextIno()
		if err != nil {
			return nil, err
		}
		attr.Ino = ino
	} else {
		if !t.p.Contains(attr.Ino) {
			return nil, apierrors.ErrInoOutOfRange
		}
		if _, err := t.p.Lookup(ctx, attr.Ino); err == nil {
			return nil, apierrors.ErrInoAlreadyExists
		} else if err != apierrors.ErrInoDoesNotExist {
			return nil, err
		}
	}
	if attr.Nlink == 0 {
		attr.Nlink = 1
	}

	t.batch.Put(encodeInoKey(attr.Ino), encodeInodeValue(attr))
	t.inodes = append(t.inodes, attr)
	return attr, nil
}

// CreateDentry stages a link of dentry.Name under parent. The existence
// check runs here; the caller holds off concurrent creates on the same
// parent through the router's create guard.
func (t *Transaction) CreateDentry(ctx context.Context, parent uint64, dentry *proto.Dentry) error {
	if !t.p.Contains(parent) {
		return apierrors.ErrInoOutOfRange
	}
	if _, err := t.p.LookupDentry(ctx, parent, dentry.Name); err == nil {
		return apierrors.ErrDentryAlreadyExists
	} else if err != apierrors.ErrDentryDoesNotExist {
		return err
	}

	t.batch.Put(encodeDentryKey(parent, dentry.Name), encodeDentryValue(dentry.Ino, dentry.Type))
	t.dentries = append(t.dentries, stagedDentry{parent: parent, dentry: dentry})
	return nil
}

// Commit writes the staged mutations in one batch and folds them into
// the cache.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	if err := t.p.store.Write(ctx, t.batch); err != nil {
		return errors.Info(err, "commit transaction failed")
	}
	index := t.p.index.Load()
	for i := range t.inodes {
		index.PutInode(t.inodes[i])
	}
	for i := range t.dentries {
		index.InsertDentry(t.dentries[i].parent, t.dentries[i].dentry)
	}
	return nil
}

// Rollback discards the staged mutations. Safe to call after Commit.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.batch.Close()
}
