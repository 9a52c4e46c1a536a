package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBackend(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "chunks/2/1", []byte("0123456789")))

	got, err := b.Get(ctx, "chunks/2/1", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), got)

	got, err = b.Get(ctx, "chunks/2/1", 3, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("3456"), got)

	got, err = b.Get(ctx, "chunks/2/1", 8, -1)
	require.NoError(t, err)
	require.Equal(t, []byte("89"), got)

	_, err = b.Get(ctx, "chunks/2/404", 0, -1)
	require.Equal(t, ErrObjectNotFound, err)

	// overwrite replaces the object
	require.NoError(t, b.Put(ctx, "chunks/2/1", []byte("xy")))
	got, err = b.Get(ctx, "chunks/2/1", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []byte("xy"), got)

	require.NoError(t, b.Delete(ctx, "chunks/2/1"))
	_, err = b.Get(ctx, "chunks/2/1", 0, -1)
	require.Equal(t, ErrObjectNotFound, err)

	// deleting a missing object is fine
	require.NoError(t, b.Delete(ctx, "chunks/2/1"))
}

func TestNewBackendFactory(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, &Config{Type: LocalBackendType, Local: LocalConfig{Root: t.TempDir()}})
	require.NoError(t, err)
	require.IsType(t, &LocalBackend{}, b)

	_, err = NewBackend(ctx, &Config{Type: "tape"})
	require.Error(t, err)
}
