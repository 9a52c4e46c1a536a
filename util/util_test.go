package util

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenTmpPath(t *testing.T) {
	path, err := GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestStringsToBytes(t *testing.T) {
	s := "nebulastore"
	b := StringsToBytes(s)
	require.Equal(t, []byte(s), b)
	require.Equal(t, s, BytesToString(b))
}

func TestNextPrefix(t *testing.T) {
	require.Equal(t, []byte{'D', 0x01}, NextPrefix([]byte{'D', 0x00}))
	require.Equal(t, []byte{'E'}, NextPrefix([]byte{'D', 0xff}))
	require.Nil(t, NextPrefix([]byte{0xff, 0xff}))
}
