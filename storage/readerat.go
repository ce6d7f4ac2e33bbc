package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
)

// ReaderAt adapts a Client file to io.ReaderAt using ranged reads. It also
// exposes Size and SourceID so it can be wrapped by a block cache.
//
// The context captured at construction bounds every read: once it is
// cancelled ReadAt fails with a KindCancelled error.
type ReaderAt struct {
	ctx      context.Context
	client   Client
	path     string
	size     int64
	progress ProgressFunc
	read     atomic.Uint64
}

// NewReaderAt returns a ReaderAt over path. size must be the exact file
// size, usually from Client.FileSize.
func NewReaderAt(ctx context.Context, c Client, path string, size uint64) *ReaderAt {
	return &ReaderAt{ctx: ctx, client: c, path: path, size: int64(size)}
}

// NewReaderAtWithProgress is NewReaderAt with progress reporting. The
// current value counts bytes fetched from the backend, so it can exceed the
// file size when callers re-read ranges; the total grows with it.
func NewReaderAtWithProgress(ctx context.Context, c Client, path string, size uint64, progress ProgressFunc) *ReaderAt {
	r := NewReaderAt(ctx, c, path, size)
	r.progress = progress
	return r
}

// Size returns the file size.
func (r *ReaderAt) Size() int64 {
	return r.size
}

// SourceID identifies the file for cache keys.
func (r *ReaderAt) SourceID() string {
	return fmt.Sprintf("%s:%p:%s", r.client.Protocol(), r.client, r.path)
}

// ReadAt implements io.ReaderAt.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		return 0, Cancelled(err)
	}
	want := int64(len(p))
	if want > r.size-off {
		want = r.size - off
	}
	data, err := r.client.ReadFileRange(r.ctx, r.path, uint64(off), uint64(want))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if r.progress != nil && n > 0 {
		cur := r.read.Add(uint64(n))
		r.progress(cur, max(cur, uint64(r.size)))
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
