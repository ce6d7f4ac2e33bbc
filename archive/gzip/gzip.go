// Package gzip analyzes and previews single-member GZIP files.
//
// GZIP has no index, so nothing can be addressed without inflating what
// precedes it. Streaming analysis therefore reads a bounded prefix and
// estimates the uncompressed size from the ratio observed in that prefix.
package gzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"

	"github.com/stardustai/webdav-viewer/archive"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/internal/decompress"
	"github.com/stardustai/webdav-viewer/storage"
)

const (
	// HeaderPrefixSize is the prefix read to validate a header and recover
	// the original filename.
	HeaderPrefixSize = 1 << 10
	// SampleSize bounds both the compressed sample and the decoded sample
	// used for size estimation.
	SampleSize = 64 << 10
	// FallbackName names the single entry when no filename is recoverable.
	FallbackName = "compressed_content"

	// defaultRatio is assumed when the sample is too small to measure.
	defaultRatio = 3
	minSample    = 1 << 10

	fixedHeaderLen = 10
	flagExtra      = 0x04
	flagName       = 0x08
	methodDeflate  = 0x08
)

// Handler implements archive.Handler for GZIP.
type Handler struct {
	logger   *slog.Logger
	httpOpts []viewerhttp.Option
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

// New creates a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

func (h *Handler) CompressionType() archive.CompressionType {
	return archive.Gzip
}

// ValidateFormat checks the two magic bytes.
func (h *Handler) ValidateFormat(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// ValidHeader reports whether data starts with the GZIP magic followed by
// the deflate method byte.
func ValidHeader(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x1f && data[1] == 0x8b && data[2] == methodDeflate
}

// OriginalFilename recovers the FNAME field of a header prefix. It is best
// effort: a missing flag, a truncated prefix or an unterminated name all
// yield ok=false. Names that are not UTF-8 are decoded as ISO 8859-1.
func OriginalFilename(data []byte) (name string, ok bool) {
	if len(data) < fixedHeaderLen {
		return "", false
	}
	flg := data[3]
	if flg&flagName == 0 {
		return "", false
	}
	off := fixedHeaderLen
	if flg&flagExtra != 0 {
		if off+2 > len(data) {
			return "", false
		}
		xlen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2 + xlen
	}
	if off >= len(data) {
		return "", false
	}
	end := bytes.IndexByte(data[off:], 0)
	if end <= 0 {
		return "", false
	}
	raw := data[off : off+end]
	if utf8.Valid(raw) {
		return string(raw), true
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// EstimateUncompressedSize scales compressedSize by the ratio observed when
// inflating sample, a prefix of the same stream. Samples under 1 KiB, or
// samples that do not inflate, assume a ratio of 3. The result is never
// below compressedSize.
func EstimateUncompressedSize(compressedSize uint64, sample []byte) uint64 {
	fallback := compressedSize * defaultRatio
	if len(sample) < minSample {
		return fallback
	}
	br := bytes.NewReader(sample)
	zr, err := gzip.NewReader(br)
	if err != nil {
		return fallback
	}
	zr.Multistream(false)
	decoded, _, _ := decompress.Sample(context.Background(), zr, SampleSize)
	if len(decoded) == 0 {
		return fallback
	}
	consumed := len(sample) - br.Len()
	if consumed <= 0 {
		consumed = len(sample)
	}
	ratio := float64(len(decoded)) / float64(consumed)
	return max(uint64(float64(compressedSize)*ratio), compressedSize)
}

// inflate decodes at most limit bytes of a GZIP stream held in data.
// A failure before any byte is decoded is fatal; later failures truncate.
func inflate(ctx context.Context, data []byte, limit uint64) (decoded []byte, ended bool, hdr gzip.Header, err error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false, hdr, archive.DecompressError(err)
	}
	defer zr.Close()
	zr.Multistream(false)
	decoded, ended, err = decompress.Sample(ctx, zr, limit)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, false, zr.Header, err
		}
		if len(decoded) == 0 {
			return nil, false, zr.Header, archive.DecompressError(err)
		}
	}
	return decoded, ended, zr.Header, nil
}

func entryMetadata(e *archive.Entry, hdr gzip.Header) {
	if !hdr.ModTime.IsZero() && hdr.ModTime.Unix() > 0 {
		mt := hdr.ModTime.UTC()
		e.ModifiedTime = &mt
	}
	if hdr.Comment != "" {
		e.SetMeta("comment", hdr.Comment)
	}
	e.SetMeta("os", strconv.Itoa(int(hdr.OS)))
}

// isize returns the size trailer, the uncompressed length modulo 2^32.
func isize(data []byte) (uint64, bool) {
	if len(data) < fixedHeaderLen+8 {
		return 0, false
	}
	return uint64(binary.LittleEndian.Uint32(data[len(data)-4:])), true
}

// AnalyzeComplete inflates at most SampleSize bytes. When the stream ends
// inside the sample its size is exact; otherwise the ISIZE trailer is used
// when it is consistent with the sample, else the sample size.
func (h *Handler) AnalyzeComplete(ctx context.Context, data []byte) (*archive.Info, error) {
	if !ValidHeader(data) {
		return nil, &archive.InvalidHeaderError{Format: "gzip"}
	}
	h.logger.Debug("gzip complete analysis", slog.Int("bytes", len(data)))

	var size uint64
	decoded, ended, hdr, err := inflate(ctx, data, SampleSize)
	switch {
	case storage.IsCancelled(err):
		return nil, err
	case err != nil:
		h.logger.Debug("gzip sample failed", slog.String("error", err.Error()))
	case ended:
		size = uint64(len(decoded))
	default:
		size = uint64(len(decoded))
		if n, ok := isize(data); ok && n >= size {
			size = n
		}
	}

	name, ok := OriginalFilename(data)
	if !ok {
		name = FallbackName
	}
	compressed := uint64(len(data))
	entry := archive.Entry{
		Path:           name,
		Size:           size,
		CompressedSize: &compressed,
		Index:          0,
	}
	if err == nil {
		entryMetadata(&entry, hdr)
	}

	return archive.NewInfoBuilder(archive.Gzip).
		Entries([]archive.Entry{entry}).
		TotalUncompressedSize(size).
		TotalCompressedSize(compressed).
		SupportsStreaming(true).
		SupportsRandomAccess(false).
		Status(archive.Complete()).
		Build()
}

func (h *Handler) requestOptions(headers map[string]string, extra ...viewerhttp.Option) []viewerhttp.Option {
	opts := make([]viewerhttp.Option, 0, len(h.httpOpts)+2+len(extra))
	opts = append(opts, viewerhttp.WithLogger(h.logger))
	opts = append(opts, h.httpOpts...)
	opts = append(opts, viewerhttp.WithHeaderMap(headers))
	return append(opts, extra...)
}

// nameFromFilename strips the .gz or .gzip suffix of the container name.
func nameFromFilename(filename string) string {
	base := path.Base(filename)
	lower := strings.ToLower(base)
	for _, suffix := range []string{".gzip", ".gz"} {
		if strings.HasSuffix(lower, suffix) && len(base) > len(suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return base
}

// streamingInfo builds the single-entry streaming result from a header
// prefix and, when size is known, a sample prefix.
func streamingInfo(header, sample []byte, filename string, size uint64, sizeKnown bool) (*archive.Info, error) {
	if !ValidHeader(header) {
		return nil, &archive.InvalidHeaderError{Format: "gzip"}
	}
	name, ok := OriginalFilename(header)
	if !ok {
		name = nameFromFilename(filename)
	}
	entry := archive.Entry{Path: name, Index: 0}
	b := archive.NewInfoBuilder(archive.Gzip).
		SupportsStreaming(true).
		SupportsRandomAccess(false).
		TotalEntries(1).
		Status(archive.StreamingWith(1))
	if sizeKnown {
		estimate := EstimateUncompressedSize(size, sample)
		entry.Size = estimate
		entry.CompressedSize = &size
		entry.SetMeta("size_estimated", "true")
		b.TotalUncompressedSize(estimate).TotalCompressedSize(size)
	}
	return b.Entries([]archive.Entry{entry}).Build()
}

// AnalyzeStreaming fetches one estimation sample and reads the header from
// its start.
func (h *Handler) AnalyzeStreaming(ctx context.Context, url string, headers map[string]string, filename string, size uint64) (*archive.Info, error) {
	h.logger.Debug("gzip streaming analysis", slog.String("file", filename), slog.Uint64("size", size))
	sample, err := viewerhttp.FetchRange(ctx, url, 0, min(SampleSize, size), h.requestOptions(headers)...)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	header := sample[:min(HeaderPrefixSize, uint64(len(sample)))]
	return streamingInfo(header, sample, filename, size, true)
}

// AnalyzeStreamingWithoutSize reads only the header prefix; the entry has a
// placeholder size of zero.
func (h *Handler) AnalyzeStreamingWithoutSize(ctx context.Context, url string, headers map[string]string, filename string) (*archive.Info, error) {
	h.logger.Debug("gzip streaming analysis without size", slog.String("file", filename))
	header, err := viewerhttp.FetchRange(ctx, url, 0, HeaderPrefixSize, h.requestOptions(headers)...)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	return streamingInfo(header, nil, filename, 0, false)
}

// ExtractPreview downloads max(2*maxSize, 64 KiB) bytes, falling back to the
// whole file when the range request fails, and renders up to maxSize
// decoded bytes classified by the recovered filename. entryPath is ignored:
// a GZIP file has exactly one entry.
func (h *Handler) ExtractPreview(ctx context.Context, url string, headers map[string]string, _ string, maxSize uint64) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	download := max(maxSize*2, SampleSize)
	h.logger.Debug("gzip preview", slog.String("url", url), slog.Uint64("max_size", maxSize))

	compressed, err := viewerhttp.FetchPrefix(ctx, url, download, h.requestOptions(headers)...)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	if !ValidHeader(compressed) {
		return nil, &archive.InvalidHeaderError{Format: "gzip"}
	}
	decoded, ended, _, err := inflate(ctx, compressed, maxSize)
	if err != nil {
		return nil, err
	}

	name, ok := OriginalFilename(compressed)
	if !ok {
		name = FallbackName
	}
	total := EstimateUncompressedSize(uint64(len(compressed)), compressed)
	if ended {
		total = uint64(len(decoded))
	}
	p := archive.RenderNamed(decoded, name, total)
	if !ended {
		p.IsTruncated = true
	}
	return p, nil
}

// AnalyzeWithClient analyzes the whole file when maxSize is 0 or the file
// fits in maxSize. Larger files get a streaming estimate from a prefix.
func (h *Handler) AnalyzeWithClient(ctx context.Context, client storage.Client, p, filename string, maxSize uint64) (*archive.Info, error) {
	if maxSize > 0 {
		size, err := client.FileSize(ctx, p)
		if err != nil && storage.IsCancelled(err) {
			return nil, err
		}
		if err != nil || size > maxSize {
			prefix, err := client.ReadFileRange(ctx, p, 0, min(maxSize, SampleSize))
			if err != nil {
				return nil, archive.ReadError(err)
			}
			h.logger.Debug("gzip client streaming analysis", slog.String("path", p), slog.Uint64("size", size))
			return streamingInfo(prefix, prefix, filename, size, size > 0)
		}
	}
	data, err := client.ReadFullFile(ctx, p)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	return h.AnalyzeComplete(ctx, data)
}

// ExtractPreviewWithClient reads the entire file through the client (GZIP
// cannot be addressed partially), inflates up to maxSize bytes and sniffs
// the result. The preview is truncated when the decoded sample fills
// maxSize without reaching the end of the stream.
func (h *Handler) ExtractPreviewWithClient(ctx context.Context, client storage.Client, p, _ string, maxSize uint64, progress storage.ProgressFunc) (*archive.FilePreview, error) {
	if maxSize == 0 {
		maxSize = archive.DefaultPreviewSize
	}
	data, err := storage.ReadFullFileWithProgress(ctx, client, p, progress)
	if err != nil {
		return nil, archive.ReadError(err)
	}
	if !ValidHeader(data) {
		return nil, &archive.InvalidHeaderError{Format: "gzip"}
	}
	decoded, ended, _, err := inflate(ctx, data, maxSize)
	if err != nil {
		return nil, err
	}
	truncated := !ended && uint64(len(decoded)) >= maxSize
	return archive.RenderSniffed(decoded, truncated, uint64(len(decoded))), nil
}
