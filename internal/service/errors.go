package service

import (
	"errors"

	"github.com/nainya/lexstore/internal/lock"
	"github.com/nainya/lexstore/pkg/history"
	"github.com/nainya/lexstore/pkg/store"
)

// Class groups errors by how transports report them
type Class int

const (
	ClassInternal Class = iota
	ClassNotFound
	ClassConflict
	ClassInvalid
	ClassPrecondition
	ClassUnavailable
)

// Classify maps an engine, store or service error to its Class
func Classify(err error) Class {
	switch {
	case errors.Is(err, history.ErrVersionNotAvailable),
		errors.Is(err, history.ErrHistoryNotFound),
		errors.Is(err, history.ErrLabelNotFound),
		store.IsNotFound(err):
		return ClassNotFound
	case errors.Is(err, history.ErrInconsistentHistory):
		return ClassConflict
	case errors.Is(err, history.ErrMissingDateDocument),
		errors.Is(err, history.ErrDocumentMismatch),
		errors.Is(err, history.ErrIncompleteVersion),
		errors.Is(err, ErrDomainMismatch),
		errors.Is(err, ErrInvalidArgument):
		return ClassInvalid
	case errors.Is(err, history.ErrNotLatest),
		errors.Is(err, history.ErrInconsistentInForce):
		return ClassPrecondition
	case store.IsTimeout(err),
		errors.Is(err, lock.ErrBusy):
		return ClassUnavailable
	}
	return ClassInternal
}
