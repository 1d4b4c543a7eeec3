package domain

import "errors"

// Failure kinds of the core. They are wrapped around the underlying cause
// with fmt.Errorf("...: %w") and tested with errors.Is.
var (
	// ErrTransientIO is a cache copy, stat or delete failure. The cache falls
	// back to the original locator and never surfaces it to the UI.
	ErrTransientIO = errors.New("transient cache I/O failure")

	// ErrMissingResource means a library item's backing file is gone. Such
	// items are excluded from the candidate set, not removed from the library.
	ErrMissingResource = errors.New("media resource does not exist")

	// ErrMalformedSettings means the persisted settings could not be decoded.
	// Defaults are used instead.
	ErrMalformedSettings = errors.New("malformed settings record")

	// ErrInvalidManualTarget means a pinned id is not a current candidate.
	// It is treated as clearing the pin.
	ErrInvalidManualTarget = errors.New("manual target is not a candidate")

	// ErrItemNotFound indicates the requested library item does not exist
	ErrItemNotFound = errors.New("media item not found")
)
