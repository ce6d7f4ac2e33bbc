// Package tar analyzes and previews TAR and gzip-compressed TAR archives.
//
// A plain TAR is a chain of 512-byte headers, each followed by its padded
// content, so a range-capable source can be listed by seeking from header
// to header. A gzip-compressed TAR offers no such shortcut unless it is an
// eStargz blob, whose table of contents sits in the last gzip member. Other
// compressed archives are walked sequentially, and only a bounded prefix is
// inflated in URL streaming mode.
package tar

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/klauspost/pgzip"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/cache"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/internal/decompress"
	"github.com/stardustai/webdav-viewer/storage"
)

// StreamingPrefixSize bounds the compressed prefix inflated when a
// gzip-compressed archive is analyzed over a URL.
const StreamingPrefixSize = 8 << 20

// Handler implements archive.Handler for Tar or TarGz.
type Handler struct {
	gzipped  bool
	logger   *slog.Logger
	httpOpts []viewerhttp.Option
	blocks   *cache.BlockCache
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

// WithBlockCache shares a block cache between handlers.
func WithBlockCache(c *cache.BlockCache) Option {
	return func(h *Handler) {
		h.blocks = c
	}
}

// New creates a Handler for uncompressed TAR archives.
func New(opts ...Option) *Handler {
	return newHandler(false, opts)
}

// NewGzip creates a Handler for gzip-compressed TAR archives.
func NewGzip(opts ...Option) *Handler {
	return newHandler(true, opts)
}

func newHandler(gzipped bool, opts []Option) *Handler {
	h := &Handler{gzipped: gzipped}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.blocks == nil {
		h.blocks = cache.New()
	}
	return h
}

func (h *Handler) CompressionType() archive.CompressionType {
	if h.gzipped {
		return archive.TarGz
	}
	return archive.Tar
}

// ValidateFormat checks for a ustar header, inflating the prefix first for
// the gzip variant.
func (h *Handler) ValidateFormat(data []byte) bool {
	if h.gzipped {
		return archive.DetectMagic(data) == archive.TarGz
	}
	return archive.IsTarHeader(data)
}

func (h *Handler) info(l *listing, compressed uint64, status archive.AnalysisStatus) (*archive.Info, error) {
	return archive.NewInfoBuilder(h.CompressionType()).
		Entries(l.entries).
		TotalUncompressedSize(l.uncompressed).
		TotalCompressedSize(compressed).
		SupportsStreaming(true).
		SupportsRandomAccess(false).
		Status(status).
		Build()
}

// streamingStatus carries the exact count only when the walk finished.
func streamingStatus(l *listing) archive.AnalysisStatus {
	if l.complete {
		return archive.StreamingWith(uint64(len(l.entries)))
	}
	return archive.Streaming(nil)
}

// tarReader returns a tar reader over r, inflating it for the gzip
// variant. The returned close func releases the inflater.
func (h *Handler) tarReader(r io.Reader) (*tar.Reader, func(), error) {
	if !h.gzipped {
		return tar.NewReader(r), func() {}, nil
	}
	zr, err := pgzip.NewReader(r)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, nil, err
		}
		return nil, nil, &archive.InvalidHeaderError{Format: "gzip"}
	}
	return tar.NewReader(zr), func() { _ = zr.Close() }, nil
}

// walkReader lists the archive read sequentially from r.
func (h *Handler) walkReader(ctx context.Context, r io.Reader, partial bool) (*listing, error) {
	tr, done, err := h.tarReader(r)
	if err != nil {
		return nil, err
	}
	defer done()
	return walk(ctx, tr, !h.gzipped, partial)
}

// AnalyzeComplete lists every entry of an archive held in memory.
func (h *Handler) AnalyzeComplete(ctx context.Context, data []byte) (*archive.Info, error) {
	h.logger.Debug("tar complete analysis", slog.Bool("gzipped", h.gzipped), slog.Int("bytes", len(data)))
	l, err := h.walkReader(ctx, bytes.NewReader(data), false)
	if err != nil {
		return nil, err
	}
	return h.info(l, uint64(len(data)), archive.Complete())
}

func (h *Handler) requestOptions(headers map[string]string) []viewerhttp.Option {
	opts := make([]viewerhttp.Option, 0, len(h.httpOpts)+2)
	opts = append(opts, viewerhttp.WithLogger(h.logger))
	opts = append(opts, h.httpOpts...)
	return append(opts, viewerhttp.WithHeaderMap(headers))
}

// random lists a random-access source: a header seek-walk for plain TAR,
// the eStargz TOC for the gzip variant. ok is false when the gzip variant
// is not an eStargz blob.
func (h *Handler) random(ctx context.Context, src cache.ByteSource) (l *listing, ok bool, err error) {
	cached, err := h.blocks.Wrap(src)
	if err != nil {
		return nil, false, err
	}
	if !h.gzipped {
		l, err := walk(ctx, tar.NewReader(io.NewSectionReader(cached, 0, cached.Size())), true, false)
		return l, err == nil, err
	}
	r, err := openStargz(cached, cached.Size())
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, false, err
		}
		h.logger.Debug("not an estargz blob", slog.String("error", err.Error()))
		return nil, false, nil
	}
	return stargzListing(r), true, nil
}

// AnalyzeStreaming seek-walks a plain TAR or reads an eStargz TOC through
// range requests. Other gzip-compressed archives are listed from an
// inflated prefix of at most StreamingPrefixSize bytes.
func (h *Handler) AnalyzeStreaming(ctx context.Context, url string, headers map[string]string, filename string, size uint64) (*archive.Info, error) {
	h.logger.Debug("tar streaming analysis", slog.String("file", filename), slog.Uint64("size", size))
	src, err := viewerhttp.NewSource(ctx, url, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	l, ok, err := h.random(ctx, src)
	if err != nil {
		return nil, err
	}
	if ok {
		return h.info(l, uint64(src.Size()), archive.StreamingWith(uint64(len(l.entries))))
	}
	prefix, err := viewerhttp.FetchRange(ctx, url, 0, min(StreamingPrefixSize, size), h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	l, err = h.walkReader(ctx, bytes.NewReader(prefix), true)
	if err != nil {
		return nil, err
	}
	return h.info(l, size, streamingStatus(l))
}

// AnalyzeStreamingWithoutSize lists what a bounded prefix holds.
func (h *Handler) AnalyzeStreamingWithoutSize(ctx context.Context, url string, headers map[string]string, filename string) (*archive.Info, error) {
	h.logger.Debug("tar streaming analysis without size", slog.String("file", filename))
	prefix, err := viewerhttp.FetchPrefix(ctx, url, StreamingPrefixSize, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	l, err := h.walkReader(ctx, bytes.NewReader(prefix), true)
	if err != nil {
		return nil, err
	}
	return h.info(l, uint64(len(prefix)), streamingStatus(l))
}

// ExtractPreview locates entryPath through range requests and renders up
// to maxSize decoded bytes.
func (h *Handler) ExtractPreview(ctx context.Context, url string, headers map[string]string, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	h.logger.Debug("tar preview", slog.String("url", url), slog.String("entry", entryPath))
	src, err := viewerhttp.NewSource(ctx, url, h.requestOptions(headers)...)
	if err != nil {
		return nil, err
	}
	return h.previewSource(ctx, src, entryPath, maxSize)
}

// previewSource previews from a random-access source. The gzip variant
// uses the eStargz TOC when present and otherwise inflates from the start
// until the entry is found.
func (h *Handler) previewSource(ctx context.Context, src cache.ByteSource, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	cached, err := h.blocks.Wrap(src)
	if err != nil {
		return nil, err
	}
	if h.gzipped {
		r, err := openStargz(cached, cached.Size())
		if err == nil {
			return stargzPreview(ctx, r, entryPath, maxSize)
		}
		if storage.IsCancelled(err) {
			return nil, err
		}
		return h.previewReader(ctx, io.NewSectionReader(src, 0, src.Size()), entryPath, maxSize)
	}
	return h.previewReader(ctx, io.NewSectionReader(cached, 0, cached.Size()), entryPath, maxSize)
}

func (h *Handler) previewReader(ctx context.Context, r io.Reader, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	tr, done, err := h.tarReader(r)
	if err != nil {
		return nil, err
	}
	defer done()
	hdr, err := seek(ctx, tr, entryPath)
	if err != nil {
		return nil, err
	}
	data, _, err := decompress.Sample(ctx, tr, maxSize)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		return nil, walkError(err)
	}
	return archive.RenderNamed(data, hdr.Name, uint64(max(hdr.Size, 0))), nil
}

// AnalyzeWithClient lists the archive exactly when the backend serves
// ranges and the archive is a plain TAR or an eStargz blob. Otherwise the
// file is read whole when it fits in maxSize (0 means no limit), and a
// prefix of maxSize bytes is listed when it does not.
func (h *Handler) AnalyzeWithClient(ctx context.Context, client storage.Client, p, filename string, maxSize uint64) (*archive.Info, error) {
	h.logger.Debug("tar client analysis", slog.String("path", p), slog.String("file", filename))
	var size uint64
	if client.Capabilities().SupportsRangeRequests {
		var err error
		size, err = client.FileSize(ctx, p)
		if err != nil {
			return nil, archive.ReadError(err)
		}
		l, ok, err := h.random(ctx, storage.NewReaderAt(ctx, client, p, size))
		if err != nil {
			return nil, err
		}
		if ok {
			return h.info(l, size, archive.Complete())
		}
		if maxSize > 0 && size > maxSize {
			prefix, err := client.ReadFileRange(ctx, p, 0, maxSize)
			if err != nil {
				return nil, archive.ReadError(err)
			}
			l, err := h.walkReader(ctx, bytes.NewReader(prefix), true)
			if err != nil {
				return nil, err
			}
			return h.info(l, size, streamingStatus(l))
		}
	}
	data, err := client.ReadFullFile(ctx, p)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	return h.AnalyzeComplete(ctx, data)
}

// ExtractPreviewWithClient renders up to maxSize decoded bytes of
// entryPath. Range-capable backends only transfer what the walk touches;
// others are read whole. progress counts bytes fetched from the backend.
func (h *Handler) ExtractPreviewWithClient(ctx context.Context, client storage.Client, p, entryPath string, maxSize uint64, progress storage.ProgressFunc) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	if client.Capabilities().SupportsRangeRequests {
		size, err := client.FileSize(ctx, p)
		if err != nil {
			return nil, archive.ReadError(err)
		}
		return h.previewSource(ctx, storage.NewReaderAtWithProgress(ctx, client, p, size, progress), entryPath, maxSize)
	}
	data, err := storage.ReadFullFileWithProgress(ctx, client, p, progress)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	return h.previewReader(ctx, bytes.NewReader(data), entryPath, maxSize)
}
