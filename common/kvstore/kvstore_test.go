package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) map[string]Store {
	ctx := context.Background()
	mem, err := NewKVStore(ctx, "", MemoryKVType)
	require.NoError(t, err)

	bdg, err := NewKVStore(ctx, t.TempDir(), BadgerKVType)
	require.NoError(t, err)

	return map[string]Store{"memory": mem, "badger": bdg}
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			_, err := store.Get(ctx, []byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SetRaw(ctx, []byte("k1"), []byte("v1")))
			value, err := store.Get(ctx, []byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), value)

			require.NoError(t, store.SetRaw(ctx, []byte("k1"), []byte("v2")))
			value, err = store.Get(ctx, []byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), value)

			require.NoError(t, store.Delete(ctx, []byte("k1")))
			_, err = store.Get(ctx, []byte("k1"))
			require.ErrorIs(t, err, ErrNotFound)

			// deleting twice is fine
			require.NoError(t, store.Delete(ctx, []byte("k1")))
		})
	}
}

func TestStoreScan(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			keys := []string{"a/3", "a/1", "b/1", "a/2", "c/1"}
			for _, k := range keys {
				require.NoError(t, store.SetRaw(ctx, []byte(k), []byte("v-"+k)))
			}

			kvs, err := store.Scan(ctx, []byte("a/"), []byte("a0"), 0)
			require.NoError(t, err)
			require.Len(t, kvs, 3)
			require.Equal(t, []byte("a/1"), kvs[0].Key)
			require.Equal(t, []byte("a/2"), kvs[1].Key)
			require.Equal(t, []byte("a/3"), kvs[2].Key)
			require.Equal(t, []byte("v-a/2"), kvs[1].Value)

			kvs, err = store.Scan(ctx, []byte("a/"), []byte("a0"), 2)
			require.NoError(t, err)
			require.Len(t, kvs, 2)

			kvs, err = store.Scan(ctx, []byte("a/"), nil, 0)
			require.NoError(t, err)
			require.Len(t, kvs, 5)
		})
	}
}

func TestStoreWriteBatch(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			require.NoError(t, store.SetRaw(ctx, []byte("old"), []byte("x")))

			batch := store.NewWriteBatch()
			batch.Put([]byte("n1"), []byte("v1"))
			batch.Put([]byte("n2"), []byte("v2"))
			batch.Delete([]byte("old"))
			require.Equal(t, 3, batch.Len())
			require.NoError(t, store.Write(ctx, batch))

			value, err := store.Get(ctx, []byte("n1"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), value)

			value, err = store.Get(ctx, []byte("n2"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), value)

			_, err = store.Get(ctx, []byte("old"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUnknownKVType(t *testing.T) {
	_, err := NewKVStore(context.Background(), "", KVType("rocksdb"))
	require.ErrorIs(t, err, ErrKVTypeNotFound)
}
