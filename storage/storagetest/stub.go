// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stardustai/webdav-viewer/storage"
)

// ReadHook runs before every ranged or full read. A non-nil error is
// returned to the caller instead of data. length is 0 for full reads.
type ReadHook func(ctx context.Context, path string, start, length uint64) error

// Client is a programmable in-memory backend. It does not implement
// storage.ProgressReader; wrap it with WithProgress for that.
type Client struct {
	mu        sync.RWMutex
	files     map[string][]byte
	caps      storage.Capabilities
	protocol  string
	connected bool
	hook      ReadHook
	reads     atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithFile adds a file.
func WithFile(name string, data []byte) Option {
	return func(c *Client) {
		c.files[clean(name)] = data
	}
}

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(caps storage.Capabilities) Option {
	return func(c *Client) {
		c.caps = caps
	}
}

// WithReadHook installs a hook that runs before every read.
func WithReadHook(hook ReadHook) Option {
	return func(c *Client) {
		c.hook = hook
	}
}

// WithForbiddenReads fails tb whenever a read is issued.
func WithForbiddenReads(tb testing.TB) Option {
	return WithReadHook(func(_ context.Context, p string, start, length uint64) error {
		tb.Errorf("unexpected read of %s [%d, +%d)", p, start, length)
		return storage.Errorf(storage.KindIO, "reads are forbidden")
	})
}

// New returns a connected stub with range support.
func New(opts ...Option) *Client {
	c := &Client{
		files:     make(map[string][]byte),
		protocol:  "stub",
		connected: true,
		caps: storage.Capabilities{
			SupportsStreaming:     true,
			SupportsRangeRequests: true,
			SupportsDirectories:   true,
			SupportedMethods:      []string{http.MethodGet, http.MethodHead},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reads returns the number of read calls issued so far.
func (c *Client) Reads() int64 {
	return c.reads.Load()
}

// Put adds or replaces a file.
func (c *Client) Put(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[clean(name)] = data
}

func (c *Client) Connect(context.Context, *storage.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) ListDirectory(_ context.Context, dir string, opts *storage.ListOptions) (*storage.DirectoryResult, error) {
	dir = clean(dir)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var files []storage.StorageFile
	for name, data := range c.files {
		if path.Dir(name) != dir && (opts == nil || !opts.Recursive || !strings.HasPrefix(name, strings.TrimSuffix(dir, "/")+"/")) {
			continue
		}
		files = append(files, storage.StorageFile{
			Filename: name,
			Basename: path.Base(name),
			Size:     uint64(len(data)),
			Type:     storage.FileTypeFile,
		})
	}
	return storage.ApplyListOptions(files, dir, opts), nil
}

func (c *Client) Request(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	data, err := c.RequestBinary(ctx, req)
	if err != nil {
		return nil, err
	}
	return &storage.Response{Status: http.StatusOK, Headers: map[string]string{}, Body: string(data)}, nil
}

func (c *Client) RequestBinary(ctx context.Context, req *storage.Request) ([]byte, error) {
	if req.Method != http.MethodGet {
		return nil, storage.Errorf(storage.KindRequestFailed, "method %s not supported", req.Method)
	}
	return c.ReadFullFile(ctx, req.URL)
}

func (c *Client) ReadFileRange(ctx context.Context, name string, start, length uint64) ([]byte, error) {
	data, err := c.read(ctx, name, start, length)
	if err != nil {
		return nil, err
	}
	if start >= uint64(len(data)) {
		return []byte{}, nil
	}
	end := start + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return bytes.Clone(data[start:end]), nil
}

func (c *Client) ReadFullFile(ctx context.Context, name string) ([]byte, error) {
	data, err := c.read(ctx, name, 0, 0)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

func (c *Client) FileSize(_ context.Context, name string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.files[clean(name)]
	if !ok {
		return 0, storage.Errorf(storage.KindIO, "file not found: %s", name)
	}
	return uint64(len(data)), nil
}

func (c *Client) Capabilities() storage.Capabilities {
	return c.caps
}

func (c *Client) Protocol() string {
	return c.protocol
}

func (c *Client) ValidateConfig(*storage.ConnectionConfig) error {
	return nil
}

func (c *Client) read(ctx context.Context, name string, start, length uint64) ([]byte, error) {
	c.reads.Add(1)
	if c.hook != nil {
		if err := c.hook(ctx, name, start, length); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Cancelled(err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.files[clean(name)]
	if !ok {
		return nil, storage.Errorf(storage.KindIO, "file not found: %s", name)
	}
	return data, nil
}

// ProgressClient adds chunked storage.ProgressReader support to a Client.
type ProgressClient struct {
	*Client
	// BeforeChunk, when set, runs before each chunk is delivered.
	BeforeChunk func(delivered uint64)
}

// WithProgress wraps c so that it implements storage.ProgressReader.
func WithProgress(c *Client) *ProgressClient {
	return &ProgressClient{Client: c}
}

func (p *ProgressClient) ReadFileRangeWithProgress(ctx context.Context, name string, start, length uint64, progress storage.ProgressFunc) ([]byte, error) {
	data, err := p.ReadFileRange(ctx, name, start, length)
	if err != nil {
		return nil, err
	}
	return storage.ReadAllWithProgress(ctx, p.reader(data), uint64(len(data)), progress)
}

func (p *ProgressClient) ReadFullFileWithProgress(ctx context.Context, name string, progress storage.ProgressFunc) ([]byte, error) {
	data, err := p.ReadFullFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return storage.ReadAllWithProgress(ctx, p.reader(data), uint64(len(data)), progress)
}

func (p *ProgressClient) reader(data []byte) *chunkReader {
	return &chunkReader{data: data, before: p.BeforeChunk}
}

// chunkReader delivers at most storage.DefaultChunkSize bytes per Read.
type chunkReader struct {
	data      []byte
	delivered uint64
	before    func(delivered uint64)
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if r.before != nil {
		r.before(r.delivered)
	}
	n := min(len(p), len(r.data), storage.DefaultChunkSize)
	copy(p, r.data[:n])
	r.data = r.data[n:]
	r.delivered += uint64(n)
	return n, nil
}

func clean(name string) string {
	return path.Clean("/" + name)
}
