// ABOUTME: Single-file KV store backing the durable content store
// ABOUTME: Copy-on-write B+Tree pages, a meta page and two fsyncs per commit

package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nainya/lexstore/pkg/btree"
)

const (
	DB_SIG          = "LexStoreKV02\x00\x00\x00\x00" // 16 bytes
	BTREE_PAGE_SIZE = btree.BTREE_PAGE_SIZE
	META_PAGE_SIZE  = 80 // signature, root, flushed, free list

	initialMmap = 64 << 20
)

// Stats describes the page usage of an open file
type Stats struct {
	Pages     uint64 // pages flushed to disk, meta page included
	FreePages int    // pages waiting in the free list
	FileBytes int64
}

// KV is a persistent key-value file. It is not safe for concurrent use;
// callers serialize access.
type KV struct {
	Path string

	fd   int
	tree btree.BTree
	free FreeList

	// read-only views of the file, extended chunk by chunk
	mmap struct {
		total  int
		chunks [][]byte
	}

	page struct {
		flushed uint64            // pages on disk
		temp    [][]byte          // appended, not yet written
		updates map[uint64][]byte // recycled pages, written in place
	}

	failed bool // last update failed; the next one rewrites the meta page first
}

// Open opens or creates the file at Path. A file written under another
// signature is rejected.
func (db *KV) Open() error {
	fd, err := createFileSync(db.Path)
	if err != nil {
		return err
	}
	db.fd = fd

	size, err := db.fileSize()
	if err != nil {
		_ = syscall.Close(fd)
		return err
	}
	if size == 0 {
		db.page.flushed = 1 // meta page
	} else if err := db.mapExisting(size); err != nil {
		_ = db.Close()
		return err
	}

	db.page.updates = make(map[uint64][]byte)
	db.free.get = db.pageRead
	db.free.new = db.pageAppend
	db.free.set = db.pageWrite
	// pages freed before the last commit are reusable right away
	db.free.maxSeq = db.free.tailSeq

	db.tree.SetCallbacks(db.pageRead, db.pageAlloc, db.pageFree)
	return nil
}

func (db *KV) fileSize() (int64, error) {
	var stat syscall.Stat_t
	if err := syscall.Fstat(db.fd, &stat); err != nil {
		return 0, fmt.Errorf("fstat %s: %w", db.Path, err)
	}
	return stat.Size, nil
}

func (db *KV) mapExisting(size int64) error {
	mmapSize := max(int(size), initialMmap)
	chunk, err := syscall.Mmap(db.fd, 0, mmapSize, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", db.Path, err)
	}
	db.mmap.total = mmapSize
	db.mmap.chunks = append(db.mmap.chunks, chunk)
	return db.readMeta()
}

// Close unmaps the file and closes it
func (db *KV) Close() error {
	for _, chunk := range db.mmap.chunks {
		if err := syscall.Munmap(chunk); err != nil {
			return err
		}
	}
	db.mmap.chunks = nil
	db.mmap.total = 0
	return syscall.Close(db.fd)
}

// Stats reports page usage of the open file
func (db *KV) Stats() (Stats, error) {
	size, err := db.fileSize()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pages: db.page.flushed, FreePages: db.free.Total(), FileBytes: size}, nil
}

// Get retrieves a value by key
func (db *KV) Get(key []byte) ([]byte, bool) {
	return db.tree.Get(key)
}

// Set inserts or updates a key-value pair and commits it
func (db *KV) Set(key []byte, val []byte) error {
	if err := btree.CheckSize(key, val); err != nil {
		return err
	}
	meta := db.saveMeta()
	db.tree.Insert(key, val)
	return db.updateOrRevert(meta)
}

// Del deletes a key and commits it
func (db *KV) Del(key []byte) (bool, error) {
	meta := db.saveMeta()
	if !db.tree.Delete(key) {
		return false, nil
	}
	return true, db.updateOrRevert(meta)
}

// Scan performs a range scan starting from the given key
func (db *KV) Scan(start []byte, callback func(key, val []byte) bool) {
	db.tree.Scan(start, callback)
}

// pageRead resolves a pointer against pending updates, unflushed pages and the mmap
func (db *KV) pageRead(ptr uint64) []byte {
	if page, ok := db.page.updates[ptr]; ok {
		return page
	}
	if ptr >= db.page.flushed {
		idx := ptr - db.page.flushed
		if idx < uint64(len(db.page.temp)) {
			return db.page.temp[idx]
		}
	}

	start := uint64(0)
	for _, chunk := range db.mmap.chunks {
		end := start + uint64(len(chunk))/BTREE_PAGE_SIZE
		if ptr < end {
			offset := BTREE_PAGE_SIZE * (ptr - start)
			return chunk[offset : offset+BTREE_PAGE_SIZE]
		}
		start = end
	}
	panic(fmt.Sprintf("bad page pointer: %d (flushed: %d, temp: %d)", ptr, db.page.flushed, len(db.page.temp)))
}

// pageAlloc recycles a free page when one is available
func (db *KV) pageAlloc(node []byte) uint64 {
	if len(node) != BTREE_PAGE_SIZE {
		panic("page size mismatch")
	}
	if ptr := db.free.PopHead(); ptr != 0 {
		db.page.updates[ptr] = node
		return ptr
	}
	return db.pageAppend(node)
}

// pageAppend allocates a new page at the end
func (db *KV) pageAppend(node []byte) uint64 {
	if len(node) != BTREE_PAGE_SIZE {
		panic("page size mismatch")
	}

	ptr := db.page.flushed + uint64(len(db.page.temp))
	db.page.temp = append(db.page.temp, node)
	return ptr
}

// pageWrite updates a page in-place
func (db *KV) pageWrite(ptr uint64, node []byte) {
	if len(node) != BTREE_PAGE_SIZE {
		panic("page size mismatch")
	}
	db.page.updates[ptr] = node
}

// pageFree recycles flushed pages only; unflushed ones vanish with the commit
func (db *KV) pageFree(ptr uint64) {
	if ptr < db.page.flushed {
		db.free.PushTail(ptr)
	}
}

// saveMeta layout: signature | root | flushed | free list
func (db *KV) saveMeta() []byte {
	var data [META_PAGE_SIZE]byte
	copy(data[:16], DB_SIG)
	binary.LittleEndian.PutUint64(data[16:], db.tree.GetRoot())
	binary.LittleEndian.PutUint64(data[24:], db.page.flushed)
	copy(data[32:], db.free.Serialize())
	return data[:]
}

func (db *KV) loadMeta(data []byte) {
	db.tree.SetRoot(binary.LittleEndian.Uint64(data[16:]))
	db.page.flushed = binary.LittleEndian.Uint64(data[24:])
	db.free.Deserialize(data[32:72])
}

func (db *KV) readMeta() error {
	data := db.mmap.chunks[0][:META_PAGE_SIZE]
	if sig := string(data[:16]); sig != DB_SIG {
		return fmt.Errorf("%s: not a lexstore kv file (signature %q)", db.Path, sig)
	}
	db.loadMeta(data)
	return nil
}

// updateOrRevert commits pending pages; on failure the in-memory state goes
// back to meta and the next commit first restores the on-disk meta page.
func (db *KV) updateOrRevert(meta []byte) error {
	if db.failed {
		if err := db.writeMeta(meta); err != nil {
			return err
		}
		if err := syscall.Fsync(db.fd); err != nil {
			return err
		}
		db.failed = false
	}

	// pages freed by this commit must not be handed out before it is durable
	savedMaxSeq := db.free.maxSeq
	db.free.SetMaxSeq()

	err := db.updateFile()
	if err != nil {
		db.loadMeta(meta)
		db.page.temp = db.page.temp[:0]
		db.page.updates = make(map[uint64][]byte)
		db.free.maxSeq = savedMaxSeq
		db.failed = true
	} else {
		db.free.maxSeq = db.free.tailSeq
	}
	return err
}

// updateFile: pages, fsync, meta page, fsync
func (db *KV) updateFile() error {
	if err := db.writePages(); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return fmt.Errorf("fsync pages: %w", err)
	}
	if err := db.writeMeta(db.saveMeta()); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return fmt.Errorf("fsync meta: %w", err)
	}
	return nil
}

// writePages writes recycled pages in place, then appends new ones
func (db *KV) writePages() error {
	for ptr, page := range db.page.updates {
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*BTREE_PAGE_SIZE)); err != nil {
			return fmt.Errorf("write page %d: %w", ptr, err)
		}
	}
	db.page.updates = make(map[uint64][]byte)

	if len(db.page.temp) == 0 {
		return nil
	}
	size := int(db.page.flushed+uint64(len(db.page.temp))) * BTREE_PAGE_SIZE
	if err := db.extendMmap(size); err != nil {
		return err
	}
	offset := int64(db.page.flushed * BTREE_PAGE_SIZE)
	for _, page := range db.page.temp {
		if _, err := syscall.Pwrite(db.fd, page, offset); err != nil {
			return fmt.Errorf("append page at %d: %w", offset, err)
		}
		offset += BTREE_PAGE_SIZE
	}
	db.page.flushed += uint64(len(db.page.temp))
	db.page.temp = db.page.temp[:0]
	return nil
}

func (db *KV) writeMeta(data []byte) error {
	if _, err := syscall.Pwrite(db.fd, data, 0); err != nil {
		return fmt.Errorf("write meta page: %w", err)
	}
	return nil
}

// extendMmap maps another chunk, at least doubling the mapped size
func (db *KV) extendMmap(size int) error {
	if size <= db.mmap.total {
		return nil
	}
	alloc := max(db.mmap.total, initialMmap)
	for db.mmap.total+alloc < size {
		alloc *= 2
	}
	chunk, err := syscall.Mmap(db.fd, int64(db.mmap.total), alloc, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	db.mmap.total += alloc
	db.mmap.chunks = append(db.mmap.chunks, chunk)
	return nil
}

// createFileSync opens the file and fsyncs its directory so a new file survives a crash
func createFileSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", file, err)
	}
	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory of %s: %w", file, err)
	}
	defer syscall.Close(dirfd)
	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory of %s: %w", file, err)
	}
	return fd, nil
}
