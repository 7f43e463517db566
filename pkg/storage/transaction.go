// ABOUTME: Multi-key transactions over the KV file
// ABOUTME: Changes stay in memory until Commit; Abort restores the saved meta state

package storage

import (
	"github.com/nainya/lexstore/pkg/btree"
)

// KVTX groups writes into one durable commit. Reads see the transaction's
// own uncommitted writes.
type KVTX struct {
	db   *KV
	meta []byte
	done bool
}

// Begin starts a transaction
func (db *KV) Begin() *KVTX {
	return &KVTX{db: db, meta: db.saveMeta()}
}

// Commit writes every change of the transaction with one two-phase update
func (tx *KVTX) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.db.updateOrRevert(tx.meta)
}

// Abort drops every change of the transaction
func (tx *KVTX) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.loadMeta(tx.meta)
	tx.db.page.temp = tx.db.page.temp[:0]
	tx.db.page.updates = make(map[uint64][]byte)
}

// Get retrieves a value
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	return tx.db.tree.Get(key)
}

// Set inserts or updates a pair that fits into a single node
func (tx *KVTX) Set(key []byte, val []byte) error {
	if err := btree.CheckSize(key, val); err != nil {
		return err
	}
	tx.db.tree.Insert(key, val)
	return nil
}

// Del deletes a key
func (tx *KVTX) Del(key []byte) bool {
	return tx.db.tree.Delete(key)
}

// Scan visits pairs in key order starting at start
func (tx *KVTX) Scan(start []byte, callback func(key, val []byte) bool) {
	tx.db.tree.Scan(start, callback)
}

// ScanPrefix visits the pairs whose key starts with prefix
func (tx *KVTX) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) {
	tx.db.tree.ScanPrefix(prefix, callback)
}
