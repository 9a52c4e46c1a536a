package kvstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/cubefs/cubefs/util/btree"
)

const memTreeDegree = 32

type kvItem struct {
	key   []byte
	value []byte
}

func (i *kvItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*kvItem).key) < 0
}

func (i *kvItem) Copy() btree.Item {
	item := *i
	return &item
}

// memoryStore keeps the whole key space in an ordered in-process tree. Used
// by tests and by cache-only partitions; same contract as the badger engine.
type memoryStore struct {
	tree *btree.BTree
	lock sync.RWMutex
}

func newMemoryStore(ctx context.Context) *memoryStore {
	return &memoryStore{tree: btree.New(memTreeDegree)}
}

func (s *memoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	found := s.tree.Get(&kvItem{key: key})
	if found == nil {
		return nil, ErrNotFound
	}
	value := found.(*kvItem).value
	return append([]byte(nil), value...), nil
}

func (s *memoryStore) SetRaw(ctx context.Context, key, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.set(key, value)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tree.Delete(&kvItem{key: key})
	return nil
}

func (s *memoryStore) Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var ret []KV
	s.tree.AscendGreaterOrEqual(&kvItem{key: start}, func(i btree.Item) bool {
		item := i.(*kvItem)
		if end != nil && bytes.Compare(item.key, end) >= 0 {
			return false
		}
		ret = append(ret, KV{
			Key:   append([]byte(nil), item.key...),
			Value: append([]byte(nil), item.value...),
		})
		return limit <= 0 || len(ret) < limit
	})
	return ret, nil
}

func (s *memoryStore) NewWriteBatch() WriteBatch {
	return &opBatch{}
}

func (s *memoryStore) Write(ctx context.Context, batch WriteBatch) error {
	b, ok := batch.(*opBatch)
	if !ok {
		return ErrKVTypeNotFound
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range b.ops {
		op := &b.ops[i]
		if op.del {
			s.tree.Delete(&kvItem{key: op.key})
			continue
		}
		s.set(op.key, op.value)
	}
	return nil
}

func (s *memoryStore) Close() {}

// callers hold the write lock
func (s *memoryStore) set(key, value []byte) {
	item := &kvItem{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
	s.tree.ReplaceOrInsert(item)
}
