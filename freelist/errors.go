package freelist

import "errors"

var (
	// ErrFull is returned by Append when the list is already at capacity.
	ErrFull = errors.New("freelist: full")
	// ErrEmpty is returned by Pop when the list has no entries.
	ErrEmpty = errors.New("freelist: empty")
)
