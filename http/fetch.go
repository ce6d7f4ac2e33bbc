package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	nethttp "net/http"

	"github.com/stardustai/webdav-viewer/storage"
)

// Fetch downloads the whole body of url.
func Fetch(ctx context.Context, url string, opts ...Option) ([]byte, error) {
	s := newSource(ctx, url, opts)
	resp, err := s.do(nethttp.MethodGet, "")
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != nethttp.StatusOK {
		return nil, storage.Errorf(storage.KindRequestFailed, "GET %s: %s", url, resp.Status)
	}
	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}
	return readBody(ctx, resp.Body, total, s.progress)
}

// FetchRange downloads the byte range [off, off+length). A range starting
// past the end yields an empty slice. It fails with ErrRangeNotSupported
// when the server ignores the Range header.
func FetchRange(ctx context.Context, url string, off, length uint64, opts ...Option) ([]byte, error) {
	if length == 0 || off >= math.MaxInt64 {
		return []byte{}, nil
	}
	length = min(length, math.MaxInt64-off)
	s := newSource(ctx, url, opts)
	resp, err := s.rangeRequest(int64(off), int64(off+length-1))
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if err := checkRangeStatus(resp); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte{}, nil
		}
		return nil, err
	}
	return readBody(ctx, io.LimitReader(resp.Body, int64(length)), length, s.progress)
}

// FetchPrefix downloads the first n bytes of url. When the ranged request
// fails for any reason other than cancellation it falls back to a full
// download, which may return more than n bytes.
func FetchPrefix(ctx context.Context, url string, n uint64, opts ...Option) ([]byte, error) {
	data, err := FetchRange(ctx, url, 0, n, opts...)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, storage.ErrCancelled) {
		return nil, err
	}
	newSource(ctx, url, opts).logger.Debug("ranged prefix fetch failed, downloading whole body",
		slog.String("url", url), slog.String("error", err.Error()))
	return Fetch(ctx, url, opts...)
}

// ContentLength reports the size of url. It trusts a HEAD Content-Length
// and otherwise falls back to a one byte range probe.
func ContentLength(ctx context.Context, url string, opts ...Option) (uint64, error) {
	s := newSource(ctx, url, opts)
	resp, err := s.do(nethttp.MethodHead, "")
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == nethttp.StatusOK && resp.ContentLength >= 0 {
			return uint64(resp.ContentLength), nil
		}
	} else if errors.Is(err, storage.ErrCancelled) {
		return 0, err
	}
	size, _, _, err := s.rangeProbe()
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

func readBody(ctx context.Context, r io.Reader, total uint64, progress storage.ProgressFunc) ([]byte, error) {
	data, err := storage.ReadAllWithProgress(ctx, r, total, progress)
	if err != nil {
		return nil, storage.NetworkError(err)
	}
	return data, nil
}
