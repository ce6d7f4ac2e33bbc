package archive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no handler can serve an archive.
	// UnsupportedFormatError matches it too.
	ErrUnsupportedFormat = errors.New("Unsupported archive format")

	// ErrInvalidHeader is matched by every InvalidHeaderError.
	ErrInvalidHeader = errors.New("invalid archive header")

	// ErrEntryNotFound is returned when a preview names a missing entry.
	ErrEntryNotFound = errors.New("entry not found in archive")
)

// UnsupportedFormatError reports a recognized format that is deliberately
// not handled. Its message is a stable code meant for client-side lookup.
type UnsupportedFormatError struct {
	Type CompressionType
}

func (e *UnsupportedFormatError) Error() string {
	return e.Code()
}

// Code returns the archive.format.<name>.not.supported code.
func (e *UnsupportedFormatError) Code() string {
	if code := e.Type.UnsupportedCode(); code != "" {
		return code
	}
	return "archive.format." + e.Type.String() + ".not.supported"
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// InvalidHeaderError reports a missing or corrupt container header.
type InvalidHeaderError struct {
	Format string
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("Invalid %s header", strings.ToUpper(e.Format))
}

func (e *InvalidHeaderError) Is(target error) bool {
	return target == ErrInvalidHeader
}

// ReadError wraps a backend read failure.
func ReadError(err error) error {
	return fmt.Errorf("Failed to read file: %w", err)
}

// DecompressError wraps a decoding failure that could not be tolerated.
func DecompressError(err error) error {
	return fmt.Errorf("Failed to decompress data: %w", err)
}
