// ABOUTME: Error taxonomy of the history engine
// ABOUTME: Callers classify with errors.Is; store errors pass through wrapped

package history

import "errors"

var (
	// ErrVersionNotAvailable: the requested label has no resolvable content
	ErrVersionNotAvailable = errors.New("version not available")
	// ErrInconsistentHistory: a label or sub_id was recorded twice; never retried
	ErrInconsistentHistory = errors.New("inconsistent version history")
	// ErrInconsistentInForce: atoms of one edition disagree on in_force
	ErrInconsistentInForce = errors.New("inconsistent in_force values")
	// ErrMissingDateDocument: a candidate edition without date_document
	ErrMissingDateDocument = errors.New("date_document needs to be provided")
	// ErrDocumentMismatch: candidate and history belong to different documents
	ErrDocumentMismatch = errors.New("document mismatch")
	// ErrHistoryNotFound: no history exists for the document
	ErrHistoryNotFound = errors.New("document history not found")
	// ErrLabelNotFound: a referenced label is not in the ledger
	ErrLabelNotFound = errors.New("version label not found")
	// ErrIncompleteVersion: a candidate or resolved edition lacks a required part
	ErrIncompleteVersion = errors.New("incomplete document version")
	// ErrCommitted wraps failures after the edition reached the stored ledger
	ErrCommitted = errors.New("edition committed")
	// ErrNotLatest: the operation only applies to the last ledger entry
	ErrNotLatest = errors.New("version is not the latest")
)
