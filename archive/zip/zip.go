// Package zip analyzes and previews ZIP archives.
//
// ZIP keeps a central directory at the end of the file, so any backend that
// serves byte ranges can list an archive exactly and open a single entry
// without downloading the rest. Range reads go through a shared block cache:
// the directory walk issues many small reads that land in a few blocks.
package zip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/klauspost/compress/zip"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/cache"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/internal/decompress"
	"github.com/stardustai/webdav-viewer/internal/pathutil"
	"github.com/stardustai/webdav-viewer/storage"
)

const (
	// MethodZstd is the APPNOTE method id for zstd-compressed entries.
	MethodZstd uint16 = 93

	// PrefixScanSize bounds the prefix read when the archive size is
	// unknown and only local headers can be walked.
	PrefixScanSize = 1 << 20

	flagEncrypted = 0x1
)

// Handler implements archive.Handler for ZIP.
type Handler struct {
	logger   *slog.Logger
	httpOpts []viewerhttp.Option
	blocks   *cache.BlockCache
	zstd     *decompress.ZstdPool
}

var _ archive.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHTTPOptions adds options to every range request made by the
// URL-based operations.
func WithHTTPOptions(opts ...viewerhttp.Option) Option {
	return func(h *Handler) {
		h.httpOpts = append(h.httpOpts, opts...)
	}
}

// WithBlockCache shares a block cache between handlers. By default each
// Handler owns a cache with the default memory limit.
func WithBlockCache(c *cache.BlockCache) Option {
	return func(h *Handler) {
		h.blocks = c
	}
}

// WithZstdPool sets the decoder pool used for zstd entries.
func WithZstdPool(p *decompress.ZstdPool) Option {
	return func(h *Handler) {
		h.zstd = p
	}
}

// New creates a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.blocks == nil {
		h.blocks = cache.New()
	}
	if h.zstd == nil {
		h.zstd = decompress.NewZstdPool(0)
	}
	return h
}

func (h *Handler) CompressionType() archive.CompressionType {
	return archive.Zip
}

// ValidateFormat accepts a local file header, an empty archive's end of
// central directory record, or a spanned archive marker.
func (h *Handler) ValidateFormat(data []byte) bool {
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		return false
	}
	switch {
	case data[2] == 0x03 && data[3] == 0x04,
		data[2] == 0x05 && data[3] == 0x06,
		data[2] == 0x07 && data[3] == 0x08:
		return true
	}
	return false
}

func (h *Handler) open(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		var se *storage.Error
		if errors.As(err, &se) {
			return nil, archive.ReadError(err)
		}
		return nil, fmt.Errorf("%w: %w", &archive.InvalidHeaderError{Format: "zip"}, err)
	}
	zr.RegisterDecompressor(MethodZstd, h.zstd.ReadCloser)
	return zr, nil
}

// openCached wraps src in the block cache before opening it.
func (h *Handler) openCached(src cache.ByteSource) (*zip.Reader, error) {
	cached, err := h.blocks.Wrap(src)
	if err != nil {
		return nil, err
	}
	return h.open(cached, cached.Size())
}

// MethodName names a compression method for entry metadata.
func MethodName(method uint16) string {
	switch method {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	case 12:
		return "bzip2"
	case 14:
		return "lzma"
	case MethodZstd:
		return "zstd"
	case 95:
		return "xz"
	case 99:
		return "aes"
	}
	return strconv.Itoa(int(method))
}

func listEntries(zr *zip.Reader) (entries []archive.Entry, uncompressed, compressed uint64) {
	entries = make([]archive.Entry, 0, len(zr.File))
	for i, f := range zr.File {
		e := archive.Entry{
			Path:  pathutil.Clean(f.Name),
			Size:  f.UncompressedSize64,
			IsDir: pathutil.IsDirName(f.Name) || f.FileInfo().IsDir(),
			Index: i,
		}
		csize := f.CompressedSize64
		e.CompressedSize = &csize
		if !e.IsDir {
			crc := f.CRC32
			e.CRC32 = &crc
		}
		if !f.Modified.IsZero() {
			mt := f.Modified
			e.ModifiedTime = &mt
		}
		e.SetMeta("method", MethodName(f.Method))
		if f.Comment != "" {
			e.SetMeta("comment", f.Comment)
		}
		if f.Flags&flagEncrypted != 0 {
			e.SetMeta("encrypted", "true")
		}
		uncompressed += f.UncompressedSize64
		compressed += f.CompressedSize64
		entries = append(entries, e)
	}
	return entries, uncompressed, compressed
}

func directoryInfo(zr *zip.Reader, status archive.AnalysisStatus) (*archive.Info, error) {
	entries, uncompressed, compressed := listEntries(zr)
	return archive.NewInfoBuilder(archive.Zip).
		Entries(entries).
		TotalUncompressedSize(uncompressed).
		TotalCompressedSize(compressed).
		SupportsStreaming(false).
		SupportsRandomAccess(true).
		Status(status).
		Build()
}

// AnalyzeComplete lists the central directory of an archive held in memory.
func (h *Handler) AnalyzeComplete(ctx context.Context, data []byte) (*archive.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Cancelled(err)
	}
	h.logger.Debug("zip complete analysis", slog.Int("bytes", len(data)))
	zr, err := h.open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return directoryInfo(zr, archive.Complete())
}

func (h *Handler) requestOptions(headers map[string]string) []viewerhttp.Option {
	opts := make([]viewerhttp.Option, 0, len(h.httpOpts)+2)
	opts = append(opts, viewerhttp.WithLogger(h.logger))
	opts = append(opts, h.httpOpts...)
	return append(opts, viewerhttp.WithHeaderMap(headers))
}

// AnalyzeStreaming reads only the central directory through range
// requests. The listing is exact; the status is Streaming with the entry
// count because the archive body was never read.
func (h *Handler) AnalyzeStreaming(ctx context.Context, url string, headers map[string]string, filename string, size uint64) (*archive.Info, error) {
	h.logger.Debug("zip streaming analysis", slog.String("file", filename), slog.Uint64("size", size))
	src, err := viewerhttp.NewSource(ctx, url, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	zr, err := h.openCached(src)
	if err != nil {
		return nil, err
	}
	return directoryInfo(zr, archive.StreamingWith(uint64(len(zr.File))))
}

// AnalyzeStreamingWithoutSize walks the local file headers of a prefix.
// The walk stops at the first entry whose size is deferred to a data
// descriptor, since its end cannot be found without inflating it.
func (h *Handler) AnalyzeStreamingWithoutSize(ctx context.Context, url string, headers map[string]string, filename string) (*archive.Info, error) {
	h.logger.Debug("zip streaming analysis without size", slog.String("file", filename))
	prefix, err := viewerhttp.FetchPrefix(ctx, url, PrefixScanSize, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	return scanInfo(prefix)
}

func scanInfo(prefix []byte) (*archive.Info, error) {
	if len(prefix) < 4 || !bytes.HasPrefix(prefix, []byte("PK\x03\x04")) {
		return nil, &archive.InvalidHeaderError{Format: "zip"}
	}
	entries, complete := ScanLocalHeaders(prefix)
	var uncompressed, compressed uint64
	for _, e := range entries {
		uncompressed += e.Size
		if e.CompressedSize != nil {
			compressed += *e.CompressedSize
		}
	}
	status := archive.Streaming(nil)
	if complete {
		n := uint64(len(entries))
		status = archive.Streaming(&n)
	}
	return archive.NewInfoBuilder(archive.Zip).
		Entries(entries).
		TotalUncompressedSize(uncompressed).
		TotalCompressedSize(compressed).
		SupportsStreaming(false).
		SupportsRandomAccess(true).
		Status(status).
		Build()
}

// findEntry locates entryPath; directories are not previewable.
func findEntry(zr *zip.Reader, entryPath string) (*zip.File, error) {
	for _, f := range zr.File {
		if !pathutil.Same(f.Name, entryPath) {
			continue
		}
		if pathutil.IsDirName(f.Name) {
			return nil, fmt.Errorf("%q is a directory: %w", entryPath, archive.ErrEntryNotFound)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%q: %w", entryPath, archive.ErrEntryNotFound)
}

// readEntry decodes at most maxSize bytes of f.
func readEntry(ctx context.Context, f *zip.File, maxSize uint64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		return nil, archive.DecompressError(err)
	}
	defer rc.Close()
	data, _, err := decompress.Sample(ctx, rc, maxSize)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		return nil, archive.DecompressError(err)
	}
	return data, nil
}

// ExtractPreview opens entryPath through range requests and renders up to
// maxSize decoded bytes.
func (h *Handler) ExtractPreview(ctx context.Context, url string, headers map[string]string, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	h.logger.Debug("zip preview", slog.String("url", url), slog.String("entry", entryPath))
	src, err := viewerhttp.NewSource(ctx, url, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	zr, err := h.openCached(src)
	if err != nil {
		return nil, err
	}
	return h.preview(ctx, zr, entryPath, maxSize)
}

func (h *Handler) preview(ctx context.Context, zr *zip.Reader, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	f, err := findEntry(zr, entryPath)
	if err != nil {
		return nil, err
	}
	data, err := readEntry(ctx, f, maxSize)
	if err != nil {
		return nil, err
	}
	return archive.RenderNamed(data, f.Name, f.UncompressedSize64), nil
}

// clientReader opens path through range reads when the backend supports
// them and otherwise through a whole-file read.
func (h *Handler) clientReader(ctx context.Context, client storage.Client, p string, progress storage.ProgressFunc) (*zip.Reader, error) {
	if client.Capabilities().SupportsRangeRequests {
		size, err := client.FileSize(ctx, p)
		if err != nil {
			return nil, archive.ReadError(err)
		}
		h.logger.Debug("zip range access", slog.String("path", p), slog.Uint64("size", size))
		return h.openCached(storage.NewReaderAtWithProgress(ctx, client, p, size, progress))
	}
	h.logger.Debug("zip whole-file access", slog.String("path", p))
	data, err := storage.ReadFullFileWithProgress(ctx, client, p, progress)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	return h.open(bytes.NewReader(data), int64(len(data)))
}

// AnalyzeWithClient lists the central directory. maxSize does not apply:
// only the directory is read from range-capable backends.
func (h *Handler) AnalyzeWithClient(ctx context.Context, client storage.Client, p, filename string, _ uint64) (*archive.Info, error) {
	h.logger.Debug("zip client analysis", slog.String("path", p), slog.String("file", filename))
	zr, err := h.clientReader(ctx, client, p, nil)
	if err != nil {
		return nil, err
	}
	return directoryInfo(zr, archive.Complete())
}

// ExtractPreviewWithClient opens entryPath and renders up to maxSize
// decoded bytes. progress counts bytes fetched from the backend.
func (h *Handler) ExtractPreviewWithClient(ctx context.Context, client storage.Client, p, entryPath string, maxSize uint64, progress storage.ProgressFunc) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	zr, err := h.clientReader(ctx, client, p, progress)
	if err != nil {
		return nil, err
	}
	return h.preview(ctx, zr, entryPath, maxSize)
}
