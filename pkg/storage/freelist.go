// ABOUTME: Page recycling for the KV file
// ABOUTME: Freed page numbers queue up in list nodes stored in pages of their own

package storage

import (
	"encoding/binary"
)

const (
	FREE_LIST_HEADER = 8
	FREE_LIST_CAP    = (BTREE_PAGE_SIZE - FREE_LIST_HEADER) / 8
)

// LNode represents a free list node (linked list node)
type LNode []byte

// getNext returns the pointer to the next node
func (node LNode) getNext() uint64 {
	return binary.LittleEndian.Uint64(node[0:8])
}

// setNext sets the pointer to the next node
func (node LNode) setNext(next uint64) {
	binary.LittleEndian.PutUint64(node[0:8], next)
}

// getPtr returns the pointer at the given index
func (node LNode) getPtr(idx int) uint64 {
	offset := FREE_LIST_HEADER + idx*8
	return binary.LittleEndian.Uint64(node[offset:])
}

// setPtr sets the pointer at the given index
func (node LNode) setPtr(idx int, ptr uint64) {
	offset := FREE_LIST_HEADER + idx*8
	binary.LittleEndian.PutUint64(node[offset:], ptr)
}

// FreeList is an unrolled linked list of recyclable page numbers. Pages
// enter at the tail and leave at the head; the list nodes live in pages
// themselves and are updated copy-on-write through set.
type FreeList struct {
	get func(uint64) []byte
	new func([]byte) uint64
	set func(uint64, []byte)

	headPage uint64
	headSeq  uint64
	tailPage uint64
	tailSeq  uint64

	// items at or after maxSeq were freed by the running commit
	maxSeq uint64
}

// Total returns the number of pages waiting in the list
func (fl *FreeList) Total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// PopHead returns a recyclable page, or 0 when none is available yet
func (fl *FreeList) PopHead() uint64 {
	if fl.headSeq >= fl.tailSeq || fl.headSeq >= fl.maxSeq || fl.headPage == 0 {
		return 0
	}
	node := LNode(fl.get(fl.headPage))
	if fl.headSeq > 0 && fl.headSeq%FREE_LIST_CAP == 0 {
		// head node drained; headSeq < tailSeq guarantees a successor
		drained := fl.headPage
		fl.headPage = node.getNext()
		node = LNode(fl.get(fl.headPage))
		fl.PushTail(drained)
	}
	ptr := node.getPtr(int(fl.headSeq % FREE_LIST_CAP))
	fl.headSeq++
	return ptr
}

func emptyListNode() []byte {
	page := make([]byte, BTREE_PAGE_SIZE)
	LNode(page).setNext(0)
	return page
}

// update copies the node at ptr, applies fn and writes the copy back
func (fl *FreeList) update(ptr uint64, fn func(LNode)) {
	page := make([]byte, BTREE_PAGE_SIZE)
	copy(page, fl.get(ptr))
	fn(LNode(page))
	fl.set(ptr, page)
}

// PushTail appends a page number, growing the list by one node when full
func (fl *FreeList) PushTail(ptr uint64) {
	if fl.tailPage == 0 {
		fl.tailPage = fl.new(emptyListNode())
		fl.headPage = fl.tailPage
	}
	idx := int(fl.tailSeq % FREE_LIST_CAP)
	if idx == 0 && fl.tailSeq > 0 {
		next := fl.new(emptyListNode())
		fl.update(fl.tailPage, func(n LNode) { n.setNext(next) })
		fl.tailPage = next
	}
	fl.update(fl.tailPage, func(n LNode) { n.setPtr(idx, ptr) })
	fl.tailSeq++
}

// SetMaxSeq freezes the poppable range at the current tail
func (fl *FreeList) SetMaxSeq() {
	fl.maxSeq = fl.tailSeq
}

// Serialize encodes the list bounds for the meta page (40 bytes)
func (fl *FreeList) Serialize() []byte {
	data := make([]byte, 0, 40)
	for _, v := range []uint64{fl.headPage, fl.headSeq, fl.tailPage, fl.tailSeq, fl.maxSeq} {
		data = binary.LittleEndian.AppendUint64(data, v)
	}
	return data
}

// Deserialize restores the list bounds written by Serialize
func (fl *FreeList) Deserialize(data []byte) {
	fl.headPage = binary.LittleEndian.Uint64(data[0:])
	fl.headSeq = binary.LittleEndian.Uint64(data[8:])
	fl.tailPage = binary.LittleEndian.Uint64(data[16:])
	fl.tailSeq = binary.LittleEndian.Uint64(data[24:])
	fl.maxSeq = binary.LittleEndian.Uint64(data[32:])
}
