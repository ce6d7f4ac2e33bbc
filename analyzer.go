package viewer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/archive/gzip"
	"github.com/stardustai/webdav-viewer/archive/tar"
	"github.com/stardustai/webdav-viewer/archive/zip"
	"github.com/stardustai/webdav-viewer/cache"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/internal/chunksize"
	"github.com/stardustai/webdav-viewer/storage"
)

const (
	// DefaultPreviewSize is the preview ceiling used when the caller gives
	// none. It is large enough to materialize any entry in full.
	DefaultPreviewSize = archive.DefaultPreviewSize

	// DefaultFullAnalysisLimit is the largest remote archive AnalyzeArchive
	// downloads whole when the caller gives no limit.
	DefaultFullAnalysisLimit uint64 = 10 << 20
)

// Analyzer is the entry point for archive analysis and previews. It
// resolves the container format, rejects unsupported formats before any
// read, and delegates to the format's handler.
//
// An Analyzer is safe for concurrent use.
type Analyzer struct {
	registry *archive.Registry
	logger   *slog.Logger
	httpOpts []viewerhttp.Option
	blocks   *cache.BlockCache
	extra    []archive.Handler
}

// New creates an Analyzer with the ZIP, TAR, TAR.GZ and GZIP handlers
// registered.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.blocks == nil {
		a.blocks = cache.New()
	}
	if a.registry == nil {
		a.registry = archive.NewRegistry(a.defaultHandlers()...)
	}
	for _, h := range a.extra {
		a.registry.Register(h)
	}
	return a
}

func (a *Analyzer) defaultHandlers() []archive.Handler {
	handlerLogger := func(format string) *slog.Logger {
		return a.logger.With(slog.String("format", format))
	}
	return []archive.Handler{
		gzip.New(gzip.WithLogger(handlerLogger("gzip")), gzip.WithHTTPOptions(a.httpOpts...)),
		zip.New(zip.WithLogger(handlerLogger("zip")), zip.WithHTTPOptions(a.httpOpts...), zip.WithBlockCache(a.blocks)),
		tar.New(tar.WithLogger(handlerLogger("tar")), tar.WithHTTPOptions(a.httpOpts...), tar.WithBlockCache(a.blocks)),
		tar.NewGzip(tar.WithLogger(handlerLogger("tar.gz")), tar.WithHTTPOptions(a.httpOpts...), tar.WithBlockCache(a.blocks)),
	}
}

// Registry returns the handler registry.
func (a *Analyzer) Registry() *archive.Registry {
	return a.registry
}

// preflight resolves the type from filename and rejects declared
// unsupported formats without any I/O. A nil handler with a nil error
// means the type is unknown and must be sniffed.
func (a *Analyzer) preflight(filename string) (archive.Handler, error) {
	typ := archive.FromFilename(filename)
	if typ.UnsupportedCode() != "" {
		a.logger.Debug("unsupported format", slog.String("file", filename), slog.String("type", typ.String()))
		return nil, &archive.UnsupportedFormatError{Type: typ}
	}
	if typ == archive.Unknown {
		return nil, nil
	}
	h, ok := a.registry.Get(typ)
	if !ok {
		return nil, archive.ErrUnsupportedFormat
	}
	a.logger.Debug("resolved format from filename", slog.String("file", filename), slog.String("type", typ.String()))
	return h, nil
}

// sniff resolves a handler from a header prefix.
func (a *Analyzer) sniff(header []byte) (archive.Handler, error) {
	typ := archive.DetectMagic(header)
	if typ.UnsupportedCode() != "" {
		return nil, &archive.UnsupportedFormatError{Type: typ}
	}
	h, ok := a.registry.Detect(header)
	if !ok {
		return nil, archive.ErrUnsupportedFormat
	}
	a.logger.Debug("resolved format from magic bytes", slog.String("type", h.CompressionType().String()))
	return h, nil
}

func (a *Analyzer) resolveWithClient(ctx context.Context, client storage.Client, p, filename string) (archive.Handler, error) {
	h, err := a.preflight(filename)
	if err != nil || h != nil {
		return h, err
	}
	header, err := client.ReadFileRange(ctx, p, 0, archive.HeaderProbeSize)
	if err != nil {
		return nil, fmt.Errorf("Failed to read file header: %w", err)
	}
	return a.sniff(header)
}

// AnalyzeArchiveWithClient lists the archive at p on client. filename
// selects the format; when it is not conclusive a 512-byte header is read.
// maxSize bounds how much a handler may read for exact analysis; 0 means
// no limit.
func (a *Analyzer) AnalyzeArchiveWithClient(ctx context.Context, client storage.Client, p, filename string, maxSize uint64) (*archive.Info, error) {
	h, err := a.resolveWithClient(ctx, client, p, filename)
	if err != nil {
		return nil, err
	}
	return h.AnalyzeWithClient(ctx, client, p, filename, maxSize)
}

// GetFilePreviewWithClient previews entryPath inside the archive at p.
// maxSize 0 selects DefaultPreviewSize. progress, when set, observes
// backend reads; cancelling ctx aborts the preview with a cancellation
// error.
func (a *Analyzer) GetFilePreviewWithClient(ctx context.Context, client storage.Client, p, filename, entryPath string, maxSize uint64, progress storage.ProgressFunc) (*archive.FilePreview, error) {
	h, err := a.resolveWithClient(ctx, client, p, filename)
	if err != nil {
		return nil, err
	}
	if maxSize == 0 {
		maxSize = DefaultPreviewSize
	}
	return h.ExtractPreviewWithClient(ctx, client, p, entryPath, maxSize, progress)
}

func (a *Analyzer) requestOptions(headers map[string]string) []viewerhttp.Option {
	opts := make([]viewerhttp.Option, 0, len(a.httpOpts)+2)
	opts = append(opts, viewerhttp.WithLogger(a.logger))
	opts = append(opts, a.httpOpts...)
	return append(opts, viewerhttp.WithHeaderMap(headers))
}

func (a *Analyzer) resolveURL(ctx context.Context, url string, headers map[string]string, filename string) (archive.Handler, error) {
	h, err := a.preflight(filename)
	if err != nil || h != nil {
		return h, err
	}
	header, err := viewerhttp.FetchPrefix(ctx, url, archive.HeaderProbeSize, a.requestOptions(headers)...)
	if err != nil {
		return nil, fmt.Errorf("Failed to read file header: %w", err)
	}
	return a.sniff(header)
}

// AnalyzeArchive lists a remote archive over HTTP. Archives no larger than
// maxSize (DefaultFullAnalysisLimit when 0) are downloaded and analyzed
// exactly; larger ones get streaming analysis. When the size cannot be
// probed the size-less streaming analysis is used.
func (a *Analyzer) AnalyzeArchive(ctx context.Context, url string, headers map[string]string, filename string, maxSize uint64) (*archive.Info, error) {
	h, err := a.resolveURL(ctx, url, headers, filename)
	if err != nil {
		return nil, err
	}
	if maxSize == 0 {
		maxSize = DefaultFullAnalysisLimit
	}
	size, err := viewerhttp.ContentLength(ctx, url, a.requestOptions(headers)...)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		a.logger.Debug("size probe failed", slog.String("url", url), slog.String("error", err.Error()))
		return h.AnalyzeStreamingWithoutSize(ctx, url, headers, filename)
	}
	if size <= maxSize {
		a.logger.Debug("full analysis", slog.String("url", url), slog.Uint64("size", size))
		data, err := viewerhttp.Fetch(ctx, url, a.requestOptions(headers)...)
		if err != nil {
			return nil, archive.ReadError(err)
		}
		return h.AnalyzeComplete(ctx, data)
	}
	a.logger.Debug("streaming analysis", slog.String("url", url), slog.Uint64("size", size))
	return h.AnalyzeStreaming(ctx, url, headers, filename, size)
}

// ExtractFilePreview previews entryPath inside a remote archive.
func (a *Analyzer) ExtractFilePreview(ctx context.Context, url string, headers map[string]string, filename, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	h, err := a.resolveURL(ctx, url, headers, filename)
	if err != nil {
		return nil, err
	}
	if maxSize == 0 {
		maxSize = DefaultPreviewSize
	}
	return h.ExtractPreview(ctx, url, headers, entryPath, maxSize)
}

// IsSupportedArchive reports whether filename names a recognized archive.
// Recognized but unsupported formats such as 7z count: analyzing them
// yields their stable unsupported-format code.
func IsSupportedArchive(filename string) bool {
	return archive.FromFilename(filename) != archive.Unknown
}

// SupportsStreaming reports whether the format of filename can be analyzed
// from a prefix.
func SupportsStreaming(filename string) bool {
	return archive.FromFilename(filename).SupportsStreaming()
}

// CompressionInfo returns the format implied by filename.
func CompressionInfo(filename string) archive.CompressionType {
	return archive.FromFilename(filename)
}

// SupportedFormats lists the archive extensions that can be analyzed.
func SupportedFormats() []string {
	return archive.SupportedExtensions()
}

// RecommendedChunkSize returns the I/O chunk size for reading an archive of
// fileSize bytes. Only ZIP is read with random access.
func RecommendedChunkSize(filename string, fileSize uint64) int {
	return chunksize.ForArchive(fileSize, archive.FromFilename(filename).SupportsRandomAccess())
}
