// Package http provides ranged and whole-body HTTP reads for archive
// analysis: a random-access Source for formats with an index, and Fetch
// helpers for bounded prefix downloads.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/stardustai/webdav-viewer/storage"
)

// ErrRangeNotSupported is returned when the server answers a ranged GET with
// the full body.
var ErrRangeNotSupported = errors.New("range requests not supported")

// Source implements random access reads via HTTP range requests.
// It satisfies io.ReaderAt and exposes Size and SourceID for block caching.
//
// The context given to NewSource bounds every subsequent ReadAt.
type Source struct {
	ctx          context.Context
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	progress     storage.ProgressFunc
	logger       *slog.Logger
	size         int64
	etag         string
	lastModified string
}

// Option configures a Source or a Fetch call.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeaderMap adds headers from a flat map, as carried by archive
// analysis requests.
func WithHeaderMap(headers map[string]string) Option {
	return func(s *Source) {
		for k, v := range headers {
			WithHeader(k, v)(s)
		}
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithBasicAuth sets an Authorization header for every request.
func WithBasicAuth(username, password string) Option {
	return func(s *Source) {
		req := &nethttp.Request{Header: make(nethttp.Header)}
		req.SetBasicAuth(username, password)
		WithHeader("Authorization", req.Header.Get("Authorization"))(s)
	}
}

// WithProgress reports body bytes as they arrive. Only Fetch and FetchRange
// report progress.
func WithProgress(progress storage.ProgressFunc) Option {
	return func(s *Source) {
		s.progress = progress
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

func newSource(ctx context.Context, url string, opts []Option) *Source {
	s := &Source{
		ctx:    ctx,
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// NewSource creates a Source backed by HTTP range requests.
// It probes the remote to determine the content size.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := newSource(ctx, url, opts)
	size, etag, lastModified, err := s.fetchMetadata()
	if err != nil {
		return nil, err
	}
	s.size = size
	s.etag = etag
	s.lastModified = lastModified
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the remote content for cache keys.
func (s *Source) SourceID() string {
	if s.etag != "" {
		return fmt.Sprintf("url:%s|etag:%s", s.url, s.etag)
	}
	return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.lastModified, s.size)
}

// ReadRange returns a reader for the byte range [off, off+length). Offsets at
// or beyond the end return io.EOF. The caller must close the reader.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if off >= s.size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	length = min(length, s.size-off)

	resp, err := s.rangeRequest(off, off+length-1)
	if err != nil {
		return nil, err
	}
	if err := checkRangeStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &rangeReadCloser{
		body:   resp.Body,
		reader: io.LimitReader(resp.Body, length),
	}, nil
}

// ReadAt implements io.ReaderAt. If fewer bytes are available than
// requested it returns the bytes read along with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	resp, err := s.rangeRequest(off, end)
	if err != nil {
		return 0, err
	}
	defer drain(resp.Body)
	if err := checkRangeStatus(resp); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, storage.NetworkError(err)
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func checkRangeStatus(resp *nethttp.Response) error {
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return io.EOF
	case nethttp.StatusOK:
		return ErrRangeNotSupported
	default:
		return storage.Errorf(storage.KindRequestFailed, "range request failed: %s", resp.Status)
	}
}

// fetchMetadata issues a HEAD and then verifies the size with a one byte
// range probe.
func (s *Source) fetchMetadata() (size int64, etag, lastModified string, err error) {
	size = -1
	if resp, headErr := s.do(nethttp.MethodHead, ""); headErr == nil {
		if resp.StatusCode == nethttp.StatusOK {
			size = resp.ContentLength
			etag = resp.Header.Get("ETag")
			lastModified = resp.Header.Get("Last-Modified")
		}
		resp.Body.Close()
	}

	rangeSize, rangeETag, rangeLastModified, err := s.rangeProbe()
	if err != nil {
		return 0, "", "", err
	}
	if size > 0 && size != rangeSize {
		return 0, "", "", storage.Errorf(storage.KindRequestFailed, "content size mismatch: head=%d range=%d", size, rangeSize)
	}
	if etag == "" {
		etag = rangeETag
	}
	if lastModified == "" {
		lastModified = rangeLastModified
	}
	return rangeSize, etag, lastModified, nil
}

func (s *Source) rangeProbe() (size int64, etag, lastModified string, err error) {
	resp, err := s.do(nethttp.MethodGet, "bytes=0-0")
	if err != nil {
		return 0, "", "", err
	}
	defer drain(resp.Body)

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return 0, "", "", ErrRangeNotSupported
		}
		return 0, "", "", storage.Errorf(storage.KindRequestFailed, "range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, "", "", errors.New("range probe missing Content-Range")
	}
	size, err = parseContentRange(crange)
	if err != nil {
		return 0, "", "", err
	}
	return size, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

func (s *Source) rangeRequest(off, end int64) (*nethttp.Response, error) {
	return s.do(nethttp.MethodGet, fmt.Sprintf("bytes=%d-%d", off, end))
}

// do sends a request with the configured headers. Transport failures are
// classified as network errors, or cancellation when ctx is done.
func (s *Source) do(method, byteRange string) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, storage.Errorf(storage.KindInvalidConfig, "build request: %w", err)
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	s.logger.Debug("http request", slog.String("method", method), slog.String("url", s.url), slog.String("range", byteRange))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, storage.NetworkError(err)
	}
	return resp, nil
}

type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

// Close drains the body so the connection can be reused.
func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// parseContentRange extracts the total size from "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
