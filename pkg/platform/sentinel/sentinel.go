// Package sentinel holds the infrastructure errors stores and adapters
// return. Services match them with errors.Is and translate them into coded
// domain errors; request validation uses pkg/domain-errors directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no row with the requested id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a row with the same identity already exists.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the row's status guard did not match.
	ErrInvalidState = errors.New("invalid state")
	// ErrLocked: another instance holds the exclusive lock.
	ErrLocked = errors.New("locked")
)
