// Package local implements the storage contract over a directory on the
// local filesystem.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/stardustai/webdav-viewer/storage"
)

// Protocol is the canonical protocol name.
const Protocol = "local"

// Client serves files below a root directory. Every path is confined to the
// root: "..", absolute paths and duplicate separators are cleaned before use.
type Client struct {
	mu        sync.RWMutex
	root      string
	connected bool
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for read tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an unconnected Client.
func New(opts ...Option) *Client {
	c := &Client{}
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
		SupportedMethods:      []string{http.MethodGet, http.MethodHead},
	}
}

// ValidateConfig requires the local protocol. An empty URL means "/".
func (c *Client) ValidateConfig(cfg *storage.ConnectionConfig) error {
	if cfg == nil {
		return storage.Errorf(storage.KindInvalidConfig, "connection config is nil")
	}
	if cfg.Protocol != Protocol {
		return storage.Errorf(storage.KindProtocolNotSupported, "%s", cfg.Protocol)
	}
	return nil
}

// Connect resolves cfg.URL to an absolute directory and checks it exists.
func (c *Client) Connect(_ context.Context, cfg *storage.ConnectionConfig) error {
	if err := c.ValidateConfig(cfg); err != nil {
		return err
	}
	root := cfg.URL
	if root == "" {
		root = string(filepath.Separator)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return storage.Errorf(storage.KindInvalidConfig, "resolve root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return storage.Errorf(storage.KindConnectionFailed, "root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return storage.Errorf(storage.KindConnectionFailed, "root %q is not a directory", abs)
	}

	c.mu.Lock()
	c.root = abs
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

// resolve maps a slash-separated storage path onto the filesystem.
func (c *Client) resolve(p string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return "", storage.ErrNotConnected
	}
	rel := path.Clean("/" + p)
	return filepath.Join(c.root, filepath.FromSlash(rel)), nil
}

func (c *Client) ListDirectory(ctx context.Context, dir string, opts *storage.ListOptions) (*storage.DirectoryResult, error) {
	full, err := c.resolve(dir)
	if err != nil {
		return nil, err
	}
	dir = path.Clean("/" + dir)

	var files []storage.StorageFile
	if opts != nil && opts.Recursive {
		err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return storage.Cancelled(ctxErr)
			}
			if p == full {
				return nil
			}
			rel, err := filepath.Rel(full, p)
			if err != nil {
				return err
			}
			f, err := toStorageFile(path.Join(dir, filepath.ToSlash(rel)), d)
			if err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(full)
		for _, d := range entries {
			f, ferr := toStorageFile(path.Join(dir, d.Name()), d)
			if ferr != nil {
				continue
			}
			files = append(files, f)
		}
	}
	if err != nil {
		return nil, storage.IOError(err)
	}
	return storage.ApplyListOptions(files, dir, opts), nil
}

func toStorageFile(name string, d fs.DirEntry) (storage.StorageFile, error) {
	info, err := d.Info()
	if err != nil {
		return storage.StorageFile{}, err
	}
	f := storage.StorageFile{
		Filename: name,
		Basename: d.Name(),
		Lastmod:  storage.FormatLastmod(info.ModTime()),
		Type:     storage.FileTypeFile,
	}
	if d.IsDir() {
		f.Type = storage.FileTypeDirectory
	} else {
		f.Size = uint64(info.Size())
		f.Mime = mime.TypeByExtension(path.Ext(name))
	}
	return f, nil
}

// Request supports GET (file body) and HEAD (size headers) on req.URL,
// which is a storage path.
func (c *Client) Request(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	switch req.Method {
	case http.MethodGet:
		data, err := c.ReadFullFile(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return &storage.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"content-length": strconv.Itoa(len(data))},
			Body:    string(data),
		}, nil
	case http.MethodHead:
		size, err := c.FileSize(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return &storage.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"content-length": strconv.FormatUint(size, 10)},
		}, nil
	default:
		return nil, storage.Errorf(storage.KindRequestFailed, "method %s not supported", req.Method)
	}
}

func (c *Client) RequestBinary(ctx context.Context, req *storage.Request) ([]byte, error) {
	if req.Method != http.MethodGet {
		return nil, storage.Errorf(storage.KindRequestFailed, "method %s not supported", req.Method)
	}
	return c.ReadFullFile(ctx, req.URL)
}

func (c *Client) FileSize(_ context.Context, p string) (uint64, error) {
	full, err := c.resolve(p)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, storage.IOError(err)
	}
	if info.IsDir() {
		return 0, storage.Errorf(storage.KindIO, "%s is a directory", p)
	}
	return uint64(info.Size()), nil
}

func (c *Client) ReadFileRange(ctx context.Context, p string, start, length uint64) ([]byte, error) {
	return c.ReadFileRangeWithProgress(ctx, p, start, length, nil)
}

func (c *Client) ReadFullFile(ctx context.Context, p string) ([]byte, error) {
	return c.ReadFullFileWithProgress(ctx, p, nil)
}

// ReadFileRangeWithProgress reads in storage.DefaultChunkSize chunks and
// stops at the first chunk boundary after ctx is cancelled.
func (c *Client) ReadFileRangeWithProgress(ctx context.Context, p string, start, length uint64, progress storage.ProgressFunc) ([]byte, error) {
	f, size, err := c.open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c.logger.Debug("local read", slog.String("path", p), slog.Uint64("offset", start), slog.Uint64("length", length))
	if start >= size || length == 0 {
		return []byte{}, nil
	}
	length = min(length, size-start)
	section := io.NewSectionReader(f, int64(start), int64(length))
	data, err := storage.ReadAllWithProgress(ctx, section, length, progress)
	if err != nil {
		return nil, storage.IOError(err)
	}
	return data, nil
}

func (c *Client) ReadFullFileWithProgress(ctx context.Context, p string, progress storage.ProgressFunc) ([]byte, error) {
	f, size, err := c.open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c.logger.Debug("local read", slog.String("path", p), slog.Uint64("length", size))
	data, err := storage.ReadAllWithProgress(ctx, f, size, progress)
	if err != nil {
		return nil, storage.IOError(err)
	}
	return data, nil
}

func (c *Client) open(p string) (*os.File, uint64, error) {
	full, err := c.resolve(p)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, storage.IOError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, storage.IOError(err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, storage.IOError(errors.New(p + " is a directory"))
	}
	return f, uint64(info.Size()), nil
}
