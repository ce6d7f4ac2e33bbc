package storage

import "context"

// ProgressFunc receives (bytes transferred so far, total bytes expected).
// It runs synchronously on the reading goroutine and must not block.
type ProgressFunc func(current, total uint64)

// Client is the contract every storage backend implements.
//
// Implementations must be safe for concurrent use: the Manager hands the
// same instance to every caller while it is active.
type Client interface {
	// Connect establishes backend state from cfg.
	Connect(ctx context.Context, cfg *ConnectionConfig) error
	// Disconnect releases backend resources. It is idempotent.
	Disconnect(ctx context.Context) error
	IsConnected() bool

	ListDirectory(ctx context.Context, path string, opts *ListOptions) (*DirectoryResult, error)
	Request(ctx context.Context, req *Request) (*Response, error)
	RequestBinary(ctx context.Context, req *Request) ([]byte, error)

	// ReadFileRange returns exactly length bytes starting at start, or fewer
	// only when the range crosses end of file.
	ReadFileRange(ctx context.Context, path string, start, length uint64) ([]byte, error)
	ReadFullFile(ctx context.Context, path string) ([]byte, error)
	FileSize(ctx context.Context, path string) (uint64, error)

	Capabilities() Capabilities
	Protocol() string
	// ValidateConfig checks cfg without connecting.
	ValidateConfig(cfg *ConnectionConfig) error
}

// ProgressReader is implemented by backends that can report progress while
// data arrives and stop early on cancellation.
type ProgressReader interface {
	ReadFileRangeWithProgress(ctx context.Context, path string, start, length uint64, progress ProgressFunc) ([]byte, error)
	ReadFullFileWithProgress(ctx context.Context, path string, progress ProgressFunc) ([]byte, error)
}

// URLSigner is implemented by backends whose download URLs need signing.
type URLSigner interface {
	DownloadURL(ctx context.Context, path string) (string, error)
}

// ReadFileRangeWithProgress reads a range through c, reporting progress and
// honoring ctx cancellation.
//
// Backends without incremental progress get the degraded path: the plain
// read runs to completion and progress is invoked once with (n, n), where n
// is the number of bytes returned. Cancellation is then only observed before
// and after the read.
func ReadFileRangeWithProgress(ctx context.Context, c Client, path string, start, length uint64, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	if pr, ok := c.(ProgressReader); ok {
		return pr.ReadFileRangeWithProgress(ctx, path, start, length, progress)
	}
	data, err := c.ReadFileRange(ctx, path, start, length)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	if progress != nil {
		n := uint64(len(data))
		progress(n, n)
	}
	return data, nil
}

// ReadFullFileWithProgress is the whole-file counterpart of
// ReadFileRangeWithProgress. The degraded path reports (size, size) once,
// where size is the number of bytes actually read.
func ReadFullFileWithProgress(ctx context.Context, c Client, path string, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	if pr, ok := c.(ProgressReader); ok {
		return pr.ReadFullFileWithProgress(ctx, path, progress)
	}
	data, err := c.ReadFullFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	if progress != nil {
		size := uint64(len(data))
		progress(size, size)
	}
	return data, nil
}

// DownloadURL resolves a download URL for path. Backends that need no
// signing return path unchanged.
func DownloadURL(ctx context.Context, c Client, path string) (string, error) {
	if s, ok := c.(URLSigner); ok {
		return s.DownloadURL(ctx, path)
	}
	return path, nil
}
