// ABOUTME: Page layout of a B+Tree node: header, child pointers, offsets, packed pairs
// ABOUTME: Nodes are built by appending into fresh pages, never edited in place

package btree

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Node kinds
const (
	BNODE_NODE = 1 // internal: pointers to child pages, keys without values
	BNODE_LEAF = 2 // leaf: keys with values
)

// Page geometry. A node holding one maximal pair must fit a page, and the KV
// store splits bigger payloads into chunks below BTREE_MAX_VAL_SIZE.
const (
	HEADER             = 4
	BTREE_PAGE_SIZE    = 4096
	BTREE_MAX_KEY_SIZE = 1000
	BTREE_MAX_VAL_SIZE = 3000
)

// pairHeader is the klen(2) + vlen(2) prefix of every packed pair
const pairHeader = 4

// BNode is one page. Layout:
//
//	| type(2) | nkeys(2) | ptrs(8*n) | offsets(2*n) | pairs... |
//
// offsets[i-1] is where pair i starts relative to the first pair; pair 0
// starts at 0, so only n offsets are stored and the last one is the end.
type BNode []byte

func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

func (node BNode) mustHave(idx uint16) {
	if idx >= node.nkeys() {
		panic("btree: index out of range")
	}
}

// offsetsStart is where the offset array begins, right after the pointers
func (node BNode) offsetsStart() uint16 {
	return HEADER + 8*node.nkeys()
}

// pairsStart is where the first packed pair begins
func (node BNode) pairsStart() uint16 {
	return HEADER + 10*node.nkeys()
}

func (node BNode) getPtr(idx uint16) uint64 {
	node.mustHave(idx)
	return binary.LittleEndian.Uint64(node[HEADER+8*idx:])
}

func (node BNode) setPtr(idx uint16, val uint64) {
	node.mustHave(idx)
	binary.LittleEndian.PutUint64(node[HEADER+8*idx:], val)
}

// getOffset returns where pair idx starts, relative to pairsStart.
// idx may equal nkeys, which yields the end of the last pair.
func (node BNode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	if idx > node.nkeys() {
		panic("btree: offset out of range")
	}
	return binary.LittleEndian.Uint16(node[node.offsetsStart()+2*(idx-1):])
}

func (node BNode) setOffset(idx uint16, offset uint16) {
	if idx < 1 || idx > node.nkeys() {
		panic("btree: offset out of range")
	}
	binary.LittleEndian.PutUint16(node[node.offsetsStart()+2*(idx-1):], offset)
}

// kvPos is the absolute position of pair idx; kvPos(nkeys) is the node size
func (node BNode) kvPos(idx uint16) uint16 {
	return node.pairsStart() + node.getOffset(idx)
}

// pair splits pair idx into its key and value
func (node BNode) pair(idx uint16) (key, val []byte) {
	node.mustHave(idx)
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	vlen := binary.LittleEndian.Uint16(node[pos+2:])
	body := node[pos+pairHeader:]
	return body[:klen], body[klen : klen+vlen]
}

func (node BNode) getKey(idx uint16) []byte {
	key, _ := node.pair(idx)
	return key
}

func (node BNode) getVal(idx uint16) []byte {
	_, val := node.pair(idx)
	return val
}

func (node BNode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the last position whose key is <= key. Position 0
// holds the separator copied from the parent (or the empty sentinel of the
// leftmost leaf), so it always qualifies.
func nodeLookupLE(node BNode, key []byte) uint16 {
	n := int(node.nkeys())
	first := sort.Search(n, func(i int) bool {
		return bytes.Compare(node.getKey(uint16(i)), key) > 0
	})
	if first == 0 {
		return 0
	}
	return uint16(first - 1)
}

// nodeAppendRange copies n pairs of old starting at srcOld into new at dstNew
func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() || dstNew+n > new.nkeys() {
		panic("btree: range out of bounds")
	}
	if n == 0 {
		return
	}

	if old.btype() == BNODE_NODE {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	// offsets shift by the distance between the two starting points
	dstBegin := new.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		new.setOffset(dstNew+i, dstBegin+old.getOffset(srcOld+i)-srcBegin)
	}

	copy(new[new.kvPos(dstNew):], old[old.kvPos(srcOld):old.kvPos(srcOld+n)])
}

// nodeAppendKV writes one pair (and its pointer) at idx and records where the next one starts
func nodeAppendKV(new BNode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(val)))
	copy(new[pos+pairHeader:], key)
	copy(new[pos+pairHeader+uint16(len(key)):], val)

	size := uint16(pairHeader + len(key) + len(val))
	new.setOffset(idx+1, new.getOffset(idx)+size)
}

func init() {
	largest := HEADER + 8 + 2 + pairHeader + BTREE_MAX_KEY_SIZE + BTREE_MAX_VAL_SIZE
	if largest > BTREE_PAGE_SIZE {
		panic("btree: a maximal pair does not fit a page")
	}
}
