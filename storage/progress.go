package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read granularity of ReadAllWithProgress. Progress
// and cancellation are observed once per chunk.
const DefaultChunkSize = 64 << 10

// ReadAllWithProgress drains r in DefaultChunkSize chunks. After every chunk
// it reports the cumulative byte count against total and checks ctx; a
// cancelled ctx stops the read with a KindCancelled error. total may be 0
// when unknown, in which case the running count is reported as the total.
//
// Backends use it to implement ProgressReader on top of a streaming body.
func ReadAllWithProgress(ctx context.Context, r io.Reader, total uint64, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	if total > 0 && total <= 1<<30 {
		buf.Grow(int(total))
	}
	chunk := make([]byte, DefaultChunkSize)
	var read uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil, Cancelled(err)
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			read += uint64(n)
			if progress != nil {
				t := total
				if t < read {
					t = read
				}
				progress(read, t)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, Cancelled(ctxErr)
			}
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
