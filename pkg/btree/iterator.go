// ABOUTME: Forward iteration over the leaves of a B+Tree
// ABOUTME: Range and prefix scans are built on SeekLE and Next

package btree

import "bytes"

type frame struct {
	node BNode
	idx  uint16
}

// BIter keeps the path from the root to its current leaf slot
type BIter struct {
	tree  *BTree
	stack []frame
}

// NewIterator returns an unpositioned iterator
func (tree *BTree) NewIterator() *BIter {
	return &BIter{tree: tree, stack: make([]frame, 0, 8)}
}

func (iter *BIter) top() *frame {
	return &iter.stack[len(iter.stack)-1]
}

// SeekLE positions the iterator at the greatest key <= key.
// It returns false on an empty tree.
func (iter *BIter) SeekLE(key []byte) bool {
	iter.stack = iter.stack[:0]
	if iter.tree.root == 0 {
		return false
	}
	node := iter.tree.node(iter.tree.root)
	for {
		idx := nodeLookupLE(node, key)
		iter.stack = append(iter.stack, frame{node: node, idx: idx})
		if node.btype() == BNODE_LEAF {
			return true
		}
		node = iter.tree.node(node.getPtr(idx))
	}
}

// Valid reports whether the iterator sits on a key
func (iter *BIter) Valid() bool {
	if len(iter.stack) == 0 {
		return false
	}
	f := iter.top()
	return f.idx < f.node.nkeys()
}

func (iter *BIter) Key() []byte {
	if !iter.Valid() {
		return nil
	}
	f := iter.top()
	return f.node.getKey(f.idx)
}

func (iter *BIter) Val() []byte {
	if !iter.Valid() {
		return nil
	}
	f := iter.top()
	return f.node.getVal(f.idx)
}

// Next moves to the following key and returns false past the last one
func (iter *BIter) Next() bool {
	for len(iter.stack) > 0 {
		f := iter.top()
		f.idx++
		if f.idx < f.node.nkeys() {
			iter.descend()
			return true
		}
		iter.stack = iter.stack[:len(iter.stack)-1]
	}
	return false
}

// descend follows the leftmost links from the top frame down to a leaf
func (iter *BIter) descend() {
	for f := iter.top(); f.node.btype() == BNODE_NODE; f = iter.top() {
		kid := iter.tree.node(f.node.getPtr(f.idx))
		iter.stack = append(iter.stack, frame{node: kid})
	}
}

// Scan visits pairs in key order from the first key >= start until fn
// returns false
func (tree *BTree) Scan(start []byte, fn func(key, val []byte) bool) {
	iter := tree.NewIterator()
	if !iter.SeekLE(start) {
		return
	}
	if bytes.Compare(iter.Key(), start) < 0 && !iter.Next() {
		return
	}
	for ; iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Val()) {
			return
		}
	}
}

// ScanPrefix visits every pair whose key starts with prefix, in key order
func (tree *BTree) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) {
	tree.Scan(prefix, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		return fn(key, val)
	})
}
