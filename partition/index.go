package partition

import (
	"sync"

	"github.com/cubefs/cubefs/util/btree"

	"github.com/nebulastore/metadb/proto"
)

const indexTreeDegree = 32

type inodeItem struct {
	ino  uint64
	attr proto.InodeAttr
}

func (i *inodeItem) Less(than btree.Item) bool {
	return i.ino < than.(*inodeItem).ino
}

func (i *inodeItem) Copy() btree.Item {
	item := *i
	return &item
}

type dentryItem struct {
	parent uint64
	name   string
	dentry proto.Dentry
}

func (i *dentryItem) Less(than btree.Item) bool {
	thanItem := than.(*dentryItem)
	if i.parent != thanItem.parent {
		return i.parent < thanItem.parent
	}
	return i.name < thanItem.name
}

func (i *dentryItem) Copy() btree.Item {
	item := *i
	return &item
}

// MemoryIndex is the partition's read/write cache in front of the persistent
// store: ino -> attr and (parent, name) -> dentry, both ordered. The btrees
// are not internally synchronized, so every access goes through the RWMutex;
// readers may interleave with a writer safely.
type MemoryIndex struct {
	inodes   *btree.BTree
	dentries *btree.BTree
	lock     sync.RWMutex
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		inodes:   btree.New(indexTreeDegree),
		dentries: btree.New(indexTreeDegree),
	}
}

func (m *MemoryIndex) GetInode(ino uint64) (*proto.InodeAttr, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	found := m.inodes.Get(&inodeItem{ino: ino})
	if found == nil {
		return nil, false
	}
	attr := found.(*inodeItem).attr
	return &attr, true
}

// InsertInode caches attr and reports whether the ino was newly inserted.
func (m *MemoryIndex) InsertInode(attr *proto.InodeAttr) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.inodes.Get(&inodeItem{ino: attr.Ino}) != nil {
		return false
	}
	m.inodes.ReplaceOrInsert(&inodeItem{ino: attr.Ino, attr: *attr})
	return true
}

// PutInode caches attr unconditionally, replacing any previous entry.
func (m *MemoryIndex) PutInode(attr *proto.InodeAttr) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.inodes.ReplaceOrInsert(&inodeItem{ino: attr.Ino, attr: *attr})
}

func (m *MemoryIndex) DeleteInode(ino uint64) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.inodes.Delete(&inodeItem{ino: ino}) != nil
}

func (m *MemoryIndex) GetDentry(parent uint64, name string) (*proto.Dentry, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	found := m.dentries.Get(&dentryItem{parent: parent, name: name})
	if found == nil {
		return nil, false
	}
	dentry := found.(*dentryItem).dentry
	return &dentry, true
}

func (m *MemoryIndex) InsertDentry(parent uint64, dentry *proto.Dentry) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := &dentryItem{parent: parent, name: dentry.Name}
	if m.dentries.Get(key) != nil {
		return false
	}
	key.dentry = *dentry
	m.dentries.ReplaceOrInsert(key)
	return true
}

func (m *MemoryIndex) DeleteDentry(parent uint64, name string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.dentries.Delete(&dentryItem{parent: parent, name: name}) != nil
}

func (m *MemoryIndex) InodeCount() uint64 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return uint64(m.inodes.Len())
}
