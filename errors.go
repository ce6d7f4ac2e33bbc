package viewer

import (
	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/storage"
)

// Errors re-exported from archive.
var (
	// ErrUnsupportedFormat is returned when no handler can serve an archive.
	// Recognized but unhandled formats return an *UnsupportedFormatError
	// that also matches it.
	ErrUnsupportedFormat = archive.ErrUnsupportedFormat

	// ErrInvalidHeader is returned when a container header is missing or corrupt.
	ErrInvalidHeader = archive.ErrInvalidHeader

	// ErrEntryNotFound is returned when a preview names a missing entry.
	ErrEntryNotFound = archive.ErrEntryNotFound
)

// Errors re-exported from storage.
var (
	// ErrCancelled is returned when a context is cancelled mid-operation.
	ErrCancelled = storage.ErrCancelled

	// ErrNotConnected is returned by a Manager with no active backend.
	ErrNotConnected = storage.ErrNotConnected
)

// UnsupportedFormatError carries the stable archive.format.*.not.supported
// code of a recognized but unhandled format.
type UnsupportedFormatError = archive.UnsupportedFormatError
