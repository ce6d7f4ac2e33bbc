// Package decompress holds the decoding helpers shared by the archive
// handlers: bounded sampling of possibly truncated streams and a pool of
// zstd decoders.
package decompress

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/stardustai/webdav-viewer/storage"
)

// Sample decodes at most limit bytes from r. ended reports whether the
// stream finished cleanly within the limit, which makes len(data) the exact
// decoded size.
//
// Input that stops early is not an error: a sampled prefix of a compressed
// stream is expected to end mid-block, so io.ErrUnexpectedEOF returns the
// bytes decoded so far with ended=false and a nil error. Other failures are
// returned together with the partial data. ctx is checked between chunks.
func Sample(ctx context.Context, r io.Reader, limit uint64) (data []byte, ended bool, err error) {
	if limit == 0 {
		return []byte{}, false, nil
	}
	buf := make([]byte, 0, min(limit, 64<<10))
	chunk := make([]byte, 32<<10)
	for uint64(len(buf)) <= limit {
		if err := ctx.Err(); err != nil {
			return buf, false, storage.Cancelled(err)
		}
		want := min(uint64(len(chunk)), limit+1-uint64(len(buf)))
		n, err := r.Read(chunk[:want])
		buf = append(buf, chunk[:n]...)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return buf[:min(uint64(len(buf)), limit)], uint64(len(buf)) <= limit, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return buf[:min(uint64(len(buf)), limit)], false, nil
		default:
			return buf[:min(uint64(len(buf)), limit)], false, err
		}
	}
	return buf[:limit], false, nil
}

// ZstdPool manages reusable zstd decoders.
type ZstdPool struct {
	pool             *sync.Pool
	maxDecoderMemory uint64
}

// NewZstdPool creates a pool. If maxMemory is 0, decoders have no memory
// limit.
func NewZstdPool(maxMemory uint64) *ZstdPool {
	p := &ZstdPool{maxDecoderMemory: maxMemory}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := p.newDecoder(nil)
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a decoder reading from r and a release func that must be
// called when the caller is done with it.
func (p *ZstdPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if p == nil || p.pool == nil {
		dec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		dec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
	if err := dec.Reset(r); err != nil {
		dec.Close()
		dec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

// ReadCloser adapts Get for APIs that want an io.ReadCloser, such as a zip
// decompressor registry. Close releases the decoder to the pool.
func (p *ZstdPool) ReadCloser(r io.Reader) io.ReadCloser {
	dec, release, err := p.Get(r)
	if err != nil {
		return errReadCloser{err}
	}
	return &pooledReader{dec: dec, release: release}
}

type pooledReader struct {
	dec     *zstd.Decoder
	release func()
	once    sync.Once
}

func (r *pooledReader) Read(b []byte) (int, error) {
	return r.dec.Read(b)
}

func (r *pooledReader) Close() error {
	r.once.Do(r.release)
	return nil
}

type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }

func (p *ZstdPool) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	if p == nil || p.maxDecoderMemory == 0 {
		return zstd.NewReader(r)
	}
	return zstd.NewReader(r, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
}
