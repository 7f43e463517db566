// ABOUTME: Copy-on-write B+Tree over caller-managed pages
// ABOUTME: Every update rebuilds the path from the leaf to a fresh root

package btree

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrKeyTooLarge   = errors.New("btree: key too large")
	ErrValueTooLarge = errors.New("btree: value too large")
	ErrEmptyKey      = errors.New("btree: empty key")
)

// CheckSize reports whether a pair fits into a single node. Insert assumes it does.
func CheckSize(key, val []byte) error {
	switch {
	case len(key) == 0:
		return ErrEmptyKey
	case len(key) > BTREE_MAX_KEY_SIZE:
		return fmt.Errorf("%w: %d > %d bytes", ErrKeyTooLarge, len(key), BTREE_MAX_KEY_SIZE)
	case len(val) > BTREE_MAX_VAL_SIZE:
		return fmt.Errorf("%w: %d > %d bytes", ErrValueTooLarge, len(val), BTREE_MAX_VAL_SIZE)
	}
	return nil
}

// BTree only knows its root page number. Pages are read, allocated and
// released through the callbacks installed with SetCallbacks.
type BTree struct {
	root uint64 // 0 when empty
	get  func(uint64) []byte
	new  func([]byte) uint64
	del  func(uint64)
}

func (tree *BTree) node(ptr uint64) BNode {
	return BNode(tree.get(ptr))
}

func badNode(node BNode) string {
	return fmt.Sprintf("btree: bad node type %d", node.btype())
}

// Get returns the value stored under key
func (tree *BTree) Get(key []byte) ([]byte, bool) {
	if tree.root == 0 {
		return nil, false
	}
	node := tree.node(tree.root)
	for {
		idx := nodeLookupLE(node, key)
		switch node.btype() {
		case BNODE_NODE:
			node = tree.node(node.getPtr(idx))
		case BNODE_LEAF:
			if !bytes.Equal(key, node.getKey(idx)) {
				return nil, false
			}
			return node.getVal(idx), true
		default:
			panic(badNode(node))
		}
	}
}

// Insert stores val under key, replacing any previous value
func (tree *BTree) Insert(key []byte, val []byte) {
	if tree.root == 0 {
		root := BNode(make([]byte, BTREE_PAGE_SIZE))
		root.setHeader(BNODE_LEAF, 2)
		// the empty sentinel key makes every lookup land on some slot
		nodeAppendKV(root, 0, 0, nil, nil)
		nodeAppendKV(root, 1, 0, key, val)
		tree.root = tree.new(root)
		return
	}

	pieces := splitNode(tree.insert(tree.node(tree.root), key, val))
	tree.del(tree.root)
	if len(pieces) == 1 {
		tree.root = tree.new(pieces[0])
		return
	}
	root := BNode(make([]byte, BTREE_PAGE_SIZE))
	root.setHeader(BNODE_NODE, uint16(len(pieces)))
	tree.appendKids(root, 0, pieces)
	tree.root = tree.new(root)
}

// insert returns a copy of node that holds the pair. The copy may be up to
// two pages long; callers split it.
func (tree *BTree) insert(node BNode, key, val []byte) BNode {
	out := BNode(make([]byte, 2*BTREE_PAGE_SIZE))
	idx := nodeLookupLE(node, key)
	n := node.nkeys()

	switch node.btype() {
	case BNODE_LEAF:
		if bytes.Equal(key, node.getKey(idx)) {
			out.setHeader(BNODE_LEAF, n)
			nodeAppendRange(out, node, 0, 0, idx)
			nodeAppendKV(out, idx, 0, key, val)
			nodeAppendRange(out, node, idx+1, idx+1, n-idx-1)
			break
		}
		out.setHeader(BNODE_LEAF, n+1)
		nodeAppendRange(out, node, 0, 0, idx+1)
		nodeAppendKV(out, idx+1, 0, key, val)
		nodeAppendRange(out, node, idx+2, idx+1, n-idx-1)

	case BNODE_NODE:
		kptr := node.getPtr(idx)
		kids := splitNode(tree.insert(tree.node(kptr), key, val))
		tree.del(kptr)
		tree.relink(out, node, idx, kids)

	default:
		panic(badNode(node))
	}
	return out
}

// appendKids allocates a page per kid and links them from slot idx on
func (tree *BTree) appendKids(dst BNode, idx uint16, kids []BNode) {
	for i, kid := range kids {
		nodeAppendKV(dst, idx+uint16(i), tree.new(kid), kid.getKey(0), nil)
	}
}

// relink copies old into dst with the link at idx replaced by kids
func (tree *BTree) relink(dst, old BNode, idx uint16, kids []BNode) {
	inc := uint16(len(kids))
	dst.setHeader(BNODE_NODE, old.nkeys()+inc-1)
	nodeAppendRange(dst, old, 0, 0, idx)
	tree.appendKids(dst, idx, kids)
	nodeAppendRange(dst, old, idx+inc, idx+1, old.nkeys()-idx-1)
}

// splitNode cuts an oversized node into at most three page-sized nodes
func splitNode(node BNode) []BNode {
	if node.nbytes() <= BTREE_PAGE_SIZE {
		return []BNode{node[:BTREE_PAGE_SIZE]}
	}
	left, right := halve(node)
	if left.nbytes() <= BTREE_PAGE_SIZE {
		return []BNode{left[:BTREE_PAGE_SIZE], right}
	}
	leftleft, middle := halve(left)
	return []BNode{leftleft[:BTREE_PAGE_SIZE], middle, right}
}

// halve fills the left node to about three quarters of a page and moves the
// rest into a page-sized right node. The left node may still be oversized.
func halve(node BNode) (left, right BNode) {
	n := node.nkeys()
	cut := uint16(1)
	for cut < n && node.kvPos(cut) < BTREE_PAGE_SIZE*3/4 {
		cut++
	}

	left = BNode(make([]byte, len(node)))
	left.setHeader(node.btype(), cut)
	nodeAppendRange(left, node, 0, 0, cut)

	right = BNode(make([]byte, BTREE_PAGE_SIZE))
	right.setHeader(node.btype(), n-cut)
	nodeAppendRange(right, node, 0, cut, n-cut)
	return left, right
}

// Delete removes key and reports whether it was present
func (tree *BTree) Delete(key []byte) bool {
	if tree.root == 0 {
		return false
	}
	updated, ok := tree.remove(tree.node(tree.root), key)
	if !ok {
		return false
	}

	tree.del(tree.root)
	if updated.btype() == BNODE_NODE && updated.nkeys() == 1 {
		// a root with a single kid is dropped
		tree.root = updated.getPtr(0)
	} else {
		tree.root = tree.new(updated)
	}
	return true
}

func (tree *BTree) remove(node BNode, key []byte) (BNode, bool) {
	idx := nodeLookupLE(node, key)
	switch node.btype() {
	case BNODE_LEAF:
		if !bytes.Equal(key, node.getKey(idx)) {
			return nil, false
		}
		n := node.nkeys()
		out := BNode(make([]byte, BTREE_PAGE_SIZE))
		out.setHeader(BNODE_LEAF, n-1)
		nodeAppendRange(out, node, 0, 0, idx)
		nodeAppendRange(out, node, idx, idx+1, n-idx-1)
		return out, true
	case BNODE_NODE:
		return tree.removeFromKid(node, idx, key)
	default:
		panic(badNode(node))
	}
}

// removeFromKid deletes key below link idx and merges the shrunken kid into
// a neighbour when both fit one page
func (tree *BTree) removeFromKid(node BNode, idx uint16, key []byte) (BNode, bool) {
	kptr := node.getPtr(idx)
	kid, ok := tree.remove(tree.node(kptr), key)
	if !ok {
		return nil, false
	}
	tree.del(kptr)

	out := BNode(make([]byte, BTREE_PAGE_SIZE))
	switch dir, sibling := tree.mergeTarget(node, idx, kid); {
	case dir < 0:
		merged := mergeNodes(sibling, kid)
		tree.del(node.getPtr(idx - 1))
		tree.replacePair(out, node, idx-1, merged)
	case dir > 0:
		merged := mergeNodes(kid, sibling)
		tree.del(node.getPtr(idx + 1))
		tree.replacePair(out, node, idx, merged)
	case kid.nkeys() == 0:
		out.setHeader(BNODE_NODE, 0)
	default:
		tree.relink(out, node, idx, []BNode{kid})
	}
	return out, true
}

// mergeTarget returns -1 (left) or +1 (right) with the sibling that kid can
// be merged with once it shrank below a quarter page, or 0 for none
func (tree *BTree) mergeTarget(node BNode, idx uint16, kid BNode) (int, BNode) {
	if kid.nbytes() > BTREE_PAGE_SIZE/4 {
		return 0, nil
	}
	fits := func(sibling BNode) bool {
		return sibling.nbytes()+kid.nbytes()-HEADER <= BTREE_PAGE_SIZE
	}
	if idx > 0 {
		if left := tree.node(node.getPtr(idx - 1)); fits(left) {
			return -1, left
		}
	}
	if idx+1 < node.nkeys() {
		if right := tree.node(node.getPtr(idx + 1)); fits(right) {
			return +1, right
		}
	}
	return 0, nil
}

func mergeNodes(left, right BNode) BNode {
	out := BNode(make([]byte, BTREE_PAGE_SIZE))
	out.setHeader(left.btype(), left.nkeys()+right.nkeys())
	nodeAppendRange(out, left, 0, 0, left.nkeys())
	nodeAppendRange(out, right, left.nkeys(), 0, right.nkeys())
	return out
}

// replacePair links merged in place of the two kids at idx and idx+1
func (tree *BTree) replacePair(dst, old BNode, idx uint16, merged BNode) {
	dst.setHeader(BNODE_NODE, old.nkeys()-1)
	nodeAppendRange(dst, old, 0, 0, idx)
	nodeAppendKV(dst, idx, tree.new(merged), merged.getKey(0), nil)
	nodeAppendRange(dst, old, idx+1, idx+2, old.nkeys()-idx-2)
}

// GetRoot returns the root page number
func (tree *BTree) GetRoot() uint64 {
	return tree.root
}

// SetRoot points the tree at an existing root page
func (tree *BTree) SetRoot(root uint64) {
	tree.root = root
}

// SetCallbacks installs the page accessors
func (tree *BTree) SetCallbacks(
	getFunc func(uint64) []byte,
	newFunc func([]byte) uint64,
	delFunc func(uint64),
) {
	tree.get = getFunc
	tree.new = newFunc
	tree.del = delFunc
}
