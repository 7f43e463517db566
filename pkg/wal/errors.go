// Package wal implements an append-only journal of CRC-checked entries.
// Payloads are appended, later acknowledged, and dropped by compaction once
// every payload before them is acknowledged.
package wal

import "errors"

var (
	// ErrCorrupted indicates a corrupted entry (CRC mismatch)
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrTruncated indicates a truncated entry
	ErrTruncated = errors.New("wal: truncated entry")

	// ErrLogClosed indicates an operation on a closed journal
	ErrLogClosed = errors.New("wal: log closed")

	// ErrUnknownLSN indicates an acknowledgement for an entry never appended
	ErrUnknownLSN = errors.New("wal: unknown LSN")
)
