// Package webdav implements the storage contract against a WebDAV server:
// PROPFIND listings and ranged GET reads with Basic authentication.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/storage"
)

// Protocol is the canonical protocol name.
const Protocol = "webdav"

const methodPropfind = "PROPFIND"

// Client talks to one WebDAV root. It is safe for concurrent use.
type Client struct {
	mu        sync.RWMutex
	base      *url.URL
	username  string
	password  string
	connected bool

	httpClient *nethttp.Client
	logger     *slog.Logger
	sizes      singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an unconnected Client.
func New(opts ...Option) *Client {
	c := &Client{httpClient: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Factory adapts New to storage.Factory.
func Factory(opts ...Option) storage.Factory {
	return func(*storage.ConnectionConfig) (storage.Client, error) {
		return New(opts...), nil
	}
}

func (c *Client) Protocol() string {
	return Protocol
}

func (c *Client) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		SupportsStreaming:     true,
		SupportsRangeRequests: true,
		SupportsMetadata:      true,
		SupportsDirectories:   true,
		SupportedMethods:      []string{nethttp.MethodGet, nethttp.MethodHead, methodPropfind, nethttp.MethodOptions},
	}
}

// ValidateConfig requires an http or https URL.
func (c *Client) ValidateConfig(cfg *storage.ConnectionConfig) error {
	_, err := parseBase(cfg)
	return err
}

func parseBase(cfg *storage.ConnectionConfig) (*url.URL, error) {
	if cfg == nil {
		return nil, storage.Errorf(storage.KindInvalidConfig, "connection config is nil")
	}
	if cfg.Protocol != Protocol {
		return nil, storage.Errorf(storage.KindProtocolNotSupported, "%s", cfg.Protocol)
	}
	if cfg.URL == "" {
		return nil, storage.Errorf(storage.KindInvalidConfig, "url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, storage.Errorf(storage.KindInvalidConfig, "parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, storage.Errorf(storage.KindInvalidConfig, "url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, storage.Errorf(storage.KindInvalidConfig, "url has no host")
	}
	return u, nil
}

// Connect validates cfg and probes the root with PROPFIND Depth 0.
func (c *Client) Connect(ctx context.Context, cfg *storage.ConnectionConfig) error {
	base, err := parseBase(cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.base = base
	c.username = cfg.Username
	c.password = cfg.Password
	c.mu.Unlock()

	if _, err := c.propfind(ctx, "/", "0"); err != nil {
		if errors.Is(err, storage.ErrCancelled) {
			return err
		}
		return storage.Errorf(storage.KindConnectionFailed, "probe %s: %w", base.Redacted(), err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
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

// fileURL joins a storage path onto the root, escaping each segment.
func (c *Client) fileURL(p string) string {
	c.mu.RLock()
	base := c.base
	c.mu.RUnlock()
	segs := strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return base.JoinPath(segs...).String()
}

func (c *Client) httpOptions(extra ...viewerhttp.Option) []viewerhttp.Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	opts := []viewerhttp.Option{viewerhttp.WithClient(c.httpClient), viewerhttp.WithLogger(c.logger)}
	if c.username != "" || c.password != "" {
		opts = append(opts, viewerhttp.WithBasicAuth(c.username, c.password))
	}
	return append(opts, extra...)
}

func (c *Client) checkConnected() error {
	if !c.IsConnected() {
		return storage.ErrNotConnected
	}
	return nil
}

func (c *Client) propfind(ctx context.Context, p, depth string) ([]storage.StorageFile, error) {
	req, err := c.newRequest(ctx, methodPropfind, c.fileURL(p), strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", depth)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, storage.NetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusMultiStatus {
		return nil, storage.Errorf(storage.KindRequestFailed, "PROPFIND %s: %s", p, resp.Status)
	}
	c.mu.RLock()
	basePath := c.base.Path
	c.mu.RUnlock()
	return parseMultistatus(resp.Body, basePath)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, storage.Errorf(storage.KindRequestFailed, "build request: %w", err)
	}
	c.mu.RLock()
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	c.mu.RUnlock()
	return req, nil
}

// ListDirectory lists dir with PROPFIND Depth 1. Recursive listings walk
// subdirectories one level at a time, since many servers refuse
// Depth: infinity.
func (c *Client) ListDirectory(ctx context.Context, dir string, opts *storage.ListOptions) (*storage.DirectoryResult, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	dir = path.Clean("/" + dir)
	recursive := opts != nil && opts.Recursive

	var files []storage.StorageFile
	queue := []string{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		entries, err := c.propfind(ctx, current, "1")
		if err != nil {
			return nil, err
		}
		for _, f := range entries {
			if f.Filename == current {
				continue
			}
			files = append(files, f)
			if recursive && f.IsDir() {
				queue = append(queue, f.Filename)
			}
		}
	}
	return storage.ApplyListOptions(files, dir, opts), nil
}

// Request performs an arbitrary request. A relative req.URL is resolved
// against the connection root.
func (c *Client) Request(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return &storage.Response{Status: resp.StatusCode, Headers: headers, Body: string(body)}, nil
}

// RequestBinary performs req and returns the body of a 2xx response.
func (c *Client) RequestBinary(ctx context.Context, req *storage.Request) ([]byte, error) {
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, storage.Errorf(storage.KindRequestFailed, "%s %s: %s", req.Method, req.URL, resp.Status)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, r *storage.Request) (*nethttp.Response, []byte, error) {
	if err := c.checkConnected(); err != nil {
		return nil, nil, err
	}
	target := r.URL
	if u, err := url.Parse(r.URL); err != nil || !u.IsAbs() {
		target = c.fileURL(r.URL)
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := c.newRequest(ctx, r.Method, target, body)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, storage.NetworkError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, storage.NetworkError(err)
	}
	return resp, data, nil
}

func (c *Client) ReadFileRange(ctx context.Context, p string, start, length uint64) ([]byte, error) {
	return c.ReadFileRangeWithProgress(ctx, p, start, length, nil)
}

func (c *Client) ReadFullFile(ctx context.Context, p string) ([]byte, error) {
	return c.ReadFullFileWithProgress(ctx, p, nil)
}

// ReadFileRangeWithProgress issues one ranged GET. Servers that ignore
// Range are handled by downloading the body and slicing it.
func (c *Client) ReadFileRangeWithProgress(ctx context.Context, p string, start, length uint64, progress storage.ProgressFunc) ([]byte, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	c.logger.Debug("webdav read", slog.String("path", p), slog.Uint64("offset", start), slog.Uint64("length", length))
	target := c.fileURL(p)
	data, err := viewerhttp.FetchRange(ctx, target, start, length, c.httpOptions(viewerhttp.WithProgress(progress))...)
	if !errors.Is(err, viewerhttp.ErrRangeNotSupported) {
		return data, err
	}
	full, err := viewerhttp.Fetch(ctx, target, c.httpOptions(viewerhttp.WithProgress(progress))...)
	if err != nil {
		return nil, err
	}
	if start >= uint64(len(full)) {
		return []byte{}, nil
	}
	length = min(length, uint64(len(full))-start)
	return full[start : start+length], nil
}

func (c *Client) ReadFullFileWithProgress(ctx context.Context, p string, progress storage.ProgressFunc) ([]byte, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	c.logger.Debug("webdav read", slog.String("path", p))
	return viewerhttp.Fetch(ctx, c.fileURL(p), c.httpOptions(viewerhttp.WithProgress(progress))...)
}

// FileSize asks for the size with HEAD and falls back to PROPFIND. Concurrent
// calls for the same path share one round trip.
func (c *Client) FileSize(ctx context.Context, p string) (uint64, error) {
	if err := c.checkConnected(); err != nil {
		return 0, err
	}
	p = path.Clean("/" + p)
	v, err, _ := c.sizes.Do(p, func() (any, error) {
		size, err := viewerhttp.ContentLength(ctx, c.fileURL(p), c.httpOptions()...)
		if err == nil {
			return size, nil
		}
		if errors.Is(err, storage.ErrCancelled) {
			return uint64(0), err
		}
		files, perr := c.propfind(ctx, p, "0")
		if perr != nil {
			return uint64(0), perr
		}
		if len(files) == 0 || files[0].IsDir() {
			return uint64(0), storage.Errorf(storage.KindIO, "%s is not a file", p)
		}
		return files[0].Size, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// DownloadURL returns the file URL with credentials embedded as userinfo.
func (c *Client) DownloadURL(_ context.Context, p string) (string, error) {
	if err := c.checkConnected(); err != nil {
		return "", err
	}
	u, err := url.Parse(c.fileURL(p))
	if err != nil {
		return "", storage.Errorf(storage.KindInvalidConfig, "download url: %w", err)
	}
	c.mu.RLock()
	if c.username != "" {
		u.User = url.UserPassword(c.username, c.password)
	}
	c.mu.RUnlock()
	return u.String(), nil
}

