// Copyright 2024 The Nebulastore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"context"
	"errors"
)

const (
	BadgerKVType = KVType("badger")
	MemoryKVType = KVType("memory")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	KVType string

	// KV is one scanned key/value pair. Both slices are owned by the
	// caller.
	KV struct {
		Key   []byte
		Value []byte
	}

	// Store is an ordered byte-key store. Keys are compared as raw
	// bytes; Scan returns pairs over [start, end) in ascending order.
	// A WriteBatch applied through Write is atomic: either every op in
	// the batch is visible or none is.
	Store interface {
		Get(ctx context.Context, key []byte) (value []byte, err error)
		SetRaw(ctx context.Context, key, value []byte) error
		Delete(ctx context.Context, key []byte) error
		Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error)
		NewWriteBatch() WriteBatch
		Write(ctx context.Context, batch WriteBatch) error
		Close()
	}

	WriteBatch interface {
		Put(key, value []byte)
		Delete(key []byte)
		Len() int
		// Close discards the batch. A batch passed to Store.Write must
		// not be reused.
		Close()
	}
)

func NewKVStore(ctx context.Context, path string, kvType KVType) (Store, error) {
	switch kvType {
	case BadgerKVType:
		return newBadgerStore(ctx, path)
	case MemoryKVType:
		return newMemoryStore(ctx), nil
	default:
		return nil, ErrKVTypeNotFound
	}
}

// batchOp is the replay unit shared by both engines: engines collect ops in
// order and apply them inside a single native transaction.
type batchOp struct {
	del   bool
	key   []byte
	value []byte
}

type opBatch struct {
	ops []batchOp
}

func (b *opBatch) Put(key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, batchOp{key: k, value: v})
}

func (b *opBatch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, batchOp{del: true, key: k})
}

func (b *opBatch) Len() int { return len(b.ops) }

func (b *opBatch) Close() { b.ops = nil }
