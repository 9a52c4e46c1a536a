package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceTreeOverlapLaterWins(t *testing.T) {
	tree := &SliceTree{}
	tree.Insert(0, 1, 100, 0, 100)
	tree.Insert(50, 2, 100, 0, 100)

	slices := tree.Build("chunks/7")
	require.Equal(t, 2, len(slices))

	require.Equal(t, uint64(1), slices[0].ID)
	require.Equal(t, uint64(0), slices[0].Offset)
	require.Equal(t, uint64(50), slices[0].Size)
	require.Equal(t, "chunks/7/1", slices[0].StorageKey)

	require.Equal(t, uint64(2), slices[1].ID)
	require.Equal(t, uint64(50), slices[1].Offset)
	require.Equal(t, uint64(100), slices[1].Size)
	require.Equal(t, "chunks/7/2", slices[1].StorageKey)

	node := tree.Find(60)
	require.NotNil(t, node)
	require.Equal(t, uint64(2), node.ID)
	require.Equal(t, uint64(0), node.Off)

	node = tree.Find(10)
	require.NotNil(t, node)
	require.Equal(t, uint64(1), node.ID)
}

func TestSliceTreeIdenticalRange(t *testing.T) {
	tree := &SliceTree{}
	tree.Insert(0, 1, 100, 0, 100)
	tree.Insert(0, 2, 100, 0, 100)

	slices := tree.Build("chunks/1")
	require.Equal(t, 1, len(slices))
	require.Equal(t, uint64(2), slices[0].ID)
	require.Equal(t, uint64(0), slices[0].Offset)
	require.Equal(t, uint64(100), slices[0].Size)
}

func TestSliceTreeNonOverlapping(t *testing.T) {
	tree := &SliceTree{}
	tree.Insert(200, 3, 100, 0, 100)
	tree.Insert(0, 1, 100, 0, 100)
	tree.Insert(100, 2, 100, 0, 100)

	slices := tree.Build("chunks/1")
	require.Equal(t, 3, len(slices))
	for i, s := range slices {
		require.Equal(t, uint64(i+1), s.ID)
		require.Equal(t, uint64(i*100), s.Offset)
		require.Equal(t, uint64(100), s.Size)
	}
}

func TestSliceTreeMiddleSplit(t *testing.T) {
	tree := &SliceTree{}
	tree.Insert(0, 1, 300, 0, 300)
	tree.Insert(100, 2, 100, 0, 100)

	slices := tree.Build("chunks/1")
	require.Equal(t, 3, len(slices))

	require.Equal(t, uint64(1), slices[0].ID)
	require.Equal(t, uint64(0), slices[0].Offset)
	require.Equal(t, uint64(100), slices[0].Size)

	require.Equal(t, uint64(2), slices[1].ID)
	require.Equal(t, uint64(100), slices[1].Offset)

	require.Equal(t, uint64(1), slices[2].ID)
	require.Equal(t, uint64(200), slices[2].Offset)
	require.Equal(t, uint64(100), slices[2].Size)

	// the tail remnant reads 200 bytes into slice 1's stored data
	node := tree.Find(250)
	require.NotNil(t, node)
	require.Equal(t, uint64(1), node.ID)
	require.Equal(t, uint64(200), node.Off)
	require.Equal(t, uint64(200), node.Pos)
}

func TestSliceTreeFullCover(t *testing.T) {
	tree := &SliceTree{}
	tree.Insert(100, 1, 50, 0, 50)
	tree.Insert(200, 2, 50, 0, 50)
	tree.Insert(0, 3, 50, 0, 50)
	tree.Insert(0, 4, 400, 0, 400)

	slices := tree.Build("chunks/1")
	require.Equal(t, 1, len(slices))
	require.Equal(t, uint64(4), slices[0].ID)
	require.Equal(t, uint64(400), slices[0].Size)
}

func TestSliceTreeGetRange(t *testing.T) {
	tree := &SliceTree{}
	for i := uint64(0); i < 10; i++ {
		tree.Insert(i*100, i+1, 100, 0, 100)
	}

	nodes := tree.GetRange(150, 450)
	require.Equal(t, 4, len(nodes))
	require.Equal(t, uint64(2), nodes[0].ID)
	require.Equal(t, uint64(5), nodes[3].ID)

	nodes = tree.GetRange(2000, 3000)
	require.Equal(t, 0, len(nodes))
}

func TestSliceTreeFindMiss(t *testing.T) {
	tree := &SliceTree{}
	require.Nil(t, tree.Find(0))

	tree.Insert(100, 1, 50, 0, 50)
	require.Nil(t, tree.Find(50))
	require.Nil(t, tree.Find(150))
	require.NotNil(t, tree.Find(149))
}

func TestSliceTreeManyOverlappingWrites(t *testing.T) {
	tree := &SliceTree{}
	for i := uint64(0); i < 100; i++ {
		tree.Insert(i*10, i+1, 100, 0, 100)
	}

	slices := tree.Build("chunks/1")
	// each earlier write keeps its first 10 bytes, the last keeps all 100
	require.Equal(t, 100, len(slices))
	var prevEnd uint64
	for i, s := range slices {
		require.Equal(t, prevEnd, s.Offset)
		require.Equal(t, uint64(i+1), s.ID)
		prevEnd = s.Offset + s.Size
	}
	require.Equal(t, uint64(99*10+100), prevEnd)
}
