package kvstore

import (
	"bytes"
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cubefs/cubefs/blobstore/common/trace"
)

// badgerStore backs the Store contract with badger. Badger gives us the
// ordered iteration and transactional batch application the partition
// layer depends on without a cgo toolchain.
type badgerStore struct {
	db *badger.DB
}

func newBadgerStore(ctx context.Context, path string) (*badgerStore, error) {
	span := trace.SpanFromContextSafe(ctx)

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		span.Errorf("open badger at %s failed: %s", path, err)
		return nil, err
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *badgerStore) SetRaw(ctx context.Context, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *badgerStore) Delete(ctx context.Context, key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *badgerStore) Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error) {
	var ret []KV
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if end != nil && bytes.Compare(key, end) >= 0 {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ret = append(ret, KV{Key: key, Value: value})
			if limit > 0 && len(ret) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *badgerStore) NewWriteBatch() WriteBatch {
	return &opBatch{}
}

func (s *badgerStore) Write(ctx context.Context, batch WriteBatch) error {
	b, ok := batch.(*opBatch)
	if !ok {
		return ErrKVTypeNotFound
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for i := range b.ops {
			op := &b.ops[i]
			if op.del {
				if err := txn.Delete(op.key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				continue
			}
			if err := txn.Set(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) Close() {
	if err := s.db.Close(); err != nil {
		span := trace.SpanFromContextSafe(context.Background())
		span.Errorf("close badger failed: %s", err)
	}
}
