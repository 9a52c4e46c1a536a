package partition

import (
	"strconv"

	"github.com/nebulastore/metadb/proto"
)

// SliceNode is one live slice of a file: Len bytes of the stored slice ID,
// starting Off bytes into it, visible at file position Pos. Nodes form a
// binary search tree keyed by Pos; the tree never holds two nodes whose
// [Pos, End) ranges overlap.
type SliceNode struct {
	ID   uint64
	Size uint64
	Off  uint64
	Len  uint64
	Pos  uint64

	left  *SliceNode
	right *SliceNode
}

func (n *SliceNode) End() uint64 { return n.Pos + n.Len }

// SliceTree resolves overlapping writes into the minimal ordered set of
// live slices. A later write always wins over earlier writes at the
// offsets it covers. The zero value is an empty tree. Not safe for
// concurrent use; the owning partition serializes access.
type SliceTree struct {
	root *SliceNode
}

// Insert records a write of length bytes at file position pos, backed by
// off..off+length of stored slice id (size is the slice's total stored
// size). Existing nodes are cut down to whatever the new write does not
// cover before the new node is added.
func (t *SliceTree) Insert(pos, id, size, off, length uint64) {
	t.root = cutNode(t.root, pos, length)
	t.root = insertNode(t.root, &SliceNode{
		ID:   id,
		Size: size,
		Off:  off,
		Len:  length,
		Pos:  pos,
	})
}

// Find returns the node covering file position pos, or nil.
func (t *SliceTree) Find(pos uint64) *SliceNode {
	node := t.root
	for node != nil {
		switch {
		case pos < node.Pos:
			node = node.left
		case pos >= node.End():
			node = node.right
		default:
			return node
		}
	}
	return nil
}

// GetRange returns the nodes intersecting [start, end) in ascending
// position order.
func (t *SliceTree) GetRange(start, end uint64) []*SliceNode {
	var ret []*SliceNode
	rangeCollect(t.root, start, end, &ret)
	return ret
}

// Build flattens the tree into the persisted slice list, ordered by file
// offset, with storage keys of the form keyPrefix/<slice id>.
func (t *SliceTree) Build(keyPrefix string) []proto.Slice {
	var slices []proto.Slice
	inorderCollect(t.root, keyPrefix, &slices)
	return slices
}

// cutNode removes [pos, pos+length) from every node of the subtree.
// Children are processed first; anything the new write covers is removed,
// split or shrunk so only the uncovered remnants survive.
func cutNode(node *SliceNode, pos, length uint64) *SliceNode {
	if node == nil {
		return nil
	}

	end := pos + length
	nodeEnd := node.End()

	node.left = cutNode(node.left, pos, length)
	node.right = cutNode(node.right, pos, length)

	// disjoint
	if nodeEnd <= pos || node.Pos >= end {
		return node
	}

	// fully covered: splice the node out, promoting the in-order
	// successor when both children exist
	if node.Pos >= pos && nodeEnd <= end {
		if node.left == nil {
			return node.right
		}
		if node.right == nil {
			return node.left
		}
		succ, rest := detachMin(node.right)
		succ.left = node.left
		succ.right = rest
		return succ
	}

	// write lands in the middle: keep the head in place, re-insert the
	// tail with its storage offset advanced past the consumed bytes
	if node.Pos < pos && nodeEnd > end {
		tail := &SliceNode{
			ID:   node.ID,
			Size: node.Size,
			Off:  node.Off + (end - node.Pos),
			Len:  nodeEnd - end,
			Pos:  end,
		}
		node.Len = pos - node.Pos
		node.right = insertNode(node.right, tail)
		return node
	}

	// overlapped on the right side only
	if node.Pos < pos {
		node.Len = pos - node.Pos
		return node
	}

	// overlapped on the left side only
	cutLen := end - node.Pos
	node.Off += cutLen
	node.Len -= cutLen
	node.Pos = end
	return node
}

// detachMin unlinks and returns the smallest node of the subtree along
// with the remaining subtree.
func detachMin(node *SliceNode) (min, rest *SliceNode) {
	if node.left == nil {
		return node, node.right
	}
	min, rest = detachMin(node.left)
	node.left = rest
	return min, node
}

func insertNode(node, newNode *SliceNode) *SliceNode {
	if node == nil {
		return newNode
	}
	if newNode.Pos < node.Pos {
		node.left = insertNode(node.left, newNode)
	} else {
		node.right = insertNode(node.right, newNode)
	}
	return node
}

func rangeCollect(node *SliceNode, start, end uint64, ret *[]*SliceNode) {
	if node == nil {
		return
	}
	if node.Pos >= end {
		rangeCollect(node.left, start, end, ret)
		return
	}
	if node.End() <= start {
		rangeCollect(node.right, start, end, ret)
		return
	}
	rangeCollect(node.left, start, end, ret)
	*ret = append(*ret, node)
	rangeCollect(node.right, start, end, ret)
}

func inorderCollect(node *SliceNode, keyPrefix string, slices *[]proto.Slice) {
	if node == nil {
		return
	}
	inorderCollect(node.left, keyPrefix, slices)
	*slices = append(*slices, proto.Slice{
		ID:         node.ID,
		Offset:     node.Pos,
		Size:       node.Len,
		StorageKey: keyPrefix + "/" + strconv.FormatUint(node.ID, 10),
	})
	inorderCollect(node.right, keyPrefix, slices)
}
