package zip

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/storagetest"
)

type member struct {
	name   string
	data   []byte
	method uint16
}

var modTime = time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)

// buildZip writes members with the streaming writer, which defers sizes to
// data descriptors.
func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.RegisterCompressor(MethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out)
	})
	for _, m := range members {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: m.name, Method: m.method, Modified: modTime})
		require.NoError(t, err)
		if m.data != nil {
			_, err = fw.Write(m.data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.SetComment("fixture"))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildStoredZip writes stored members with sizes in the local headers.
func buildStoredZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, m := range members {
		fw, err := w.CreateRaw(&zip.FileHeader{
			Name:               m.name,
			Method:             zip.Store,
			Modified:           modTime,
			CRC32:              crc32.ChecksumIEEE(m.data),
			CompressedSize64:   uint64(len(m.data)),
			UncompressedSize64: uint64(len(m.data)),
		})
		require.NoError(t, err)
		_, err = fw.Write(m.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func fixture(t *testing.T) []byte {
	return buildZip(t,
		member{name: "docs/"},
		member{name: "docs/readme.txt", data: []byte(strings.Repeat("read me\n", 100)), method: zip.Deflate},
		member{name: "data/blob.bin", data: bytes.Repeat([]byte{0x00, 0xff, 0x10}, 200), method: zip.Store},
		member{name: "logs/app.log", data: []byte(strings.Repeat("zstd line\n", 500)), method: MethodZstd},
	)
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()

	h := New()
	assert.Equal(t, archive.Zip, h.CompressionType())
	assert.True(t, h.ValidateFormat([]byte("PK\x03\x04rest")))
	assert.True(t, h.ValidateFormat([]byte("PK\x05\x06")))
	assert.False(t, h.ValidateFormat([]byte("PK\x01\x02")))
	assert.False(t, h.ValidateFormat([]byte{0x1f, 0x8b, 0x08, 0x00}))
	assert.False(t, h.ValidateFormat([]byte("PK")))
}

func TestAnalyzeComplete(t *testing.T) {
	t.Parallel()

	info, err := New().AnalyzeComplete(context.Background(), fixture(t))
	require.NoError(t, err)
	assert.True(t, info.AnalysisStatus.IsComplete())
	assert.Equal(t, archive.Zip, info.CompressionType)
	assert.True(t, info.SupportsRandomAccess)
	assert.False(t, info.SupportsStreaming)
	require.Len(t, info.Entries, 4)
	assert.Equal(t, 4, info.TotalEntries)

	dir := info.Entries[0]
	assert.Equal(t, "docs", dir.Path)
	assert.True(t, dir.IsDir)
	assert.Nil(t, dir.CRC32)

	readme := info.Entries[1]
	assert.Equal(t, "docs/readme.txt", readme.Path)
	assert.Equal(t, uint64(800), readme.Size)
	require.NotNil(t, readme.CompressedSize)
	assert.Less(t, *readme.CompressedSize, readme.Size)
	assert.Equal(t, "deflate", readme.Metadata["method"])
	require.NotNil(t, readme.ModifiedTime)
	assert.True(t, modTime.Equal(*readme.ModifiedTime))

	assert.Equal(t, "store", info.Entries[2].Metadata["method"])
	assert.Equal(t, "zstd", info.Entries[3].Metadata["method"])
	assert.Equal(t, uint64(800+600+5000), info.TotalUncompressedSize)
}

func TestAnalyzeCompleteInvalid(t *testing.T) {
	t.Parallel()

	_, err := New().AnalyzeComplete(context.Background(), []byte("PK\x03\x04 not really a zip"))
	require.ErrorIs(t, err, archive.ErrInvalidHeader)
	assert.Contains(t, err.Error(), "Invalid ZIP header")
}

func TestAnalyzeWithClient(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	ctx := context.Background()

	ranged := storagetest.New(storagetest.WithFile("/a.zip", data))
	info, err := New().AnalyzeWithClient(ctx, ranged, "/a.zip", "a.zip", 0)
	require.NoError(t, err)
	assert.True(t, info.AnalysisStatus.IsComplete())
	assert.Len(t, info.Entries, 4)

	whole := storagetest.New(
		storagetest.WithFile("/a.zip", data),
		storagetest.WithCapabilities(storage.DefaultCapabilities()),
	)
	info, err = New().AnalyzeWithClient(ctx, whole, "/a.zip", "a.zip", 0)
	require.NoError(t, err)
	assert.Len(t, info.Entries, 4)
	assert.Equal(t, int64(1), whole.Reads())

	_, err = New().AnalyzeWithClient(ctx, ranged, "/missing.zip", "missing.zip", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read file")
}

func TestExtractPreviewWithClient(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	client := storagetest.New(storagetest.WithFile("/a.zip", data))
	ctx := context.Background()
	h := New()

	var calls int
	p, err := h.ExtractPreviewWithClient(ctx, client, "/a.zip", "docs/readme.txt", 0, func(cur, total uint64) {
		calls++
		assert.LessOrEqual(t, cur, total)
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("read me\n", 100), p.Content)
	assert.False(t, p.IsTruncated)
	assert.Equal(t, archive.FileTypeText, p.FileType)
	assert.Positive(t, calls)

	p, err = h.ExtractPreviewWithClient(ctx, client, "/a.zip", "/logs/app.log", 25, nil)
	require.NoError(t, err)
	assert.Equal(t, "zstd line\nzstd line\nzstd ", p.Content)
	assert.True(t, p.IsTruncated)
	assert.Equal(t, uint64(5000), p.TotalSize)
	assert.Equal(t, uint64(25), p.PreviewSize)

	p, err = h.ExtractPreviewWithClient(ctx, client, "/a.zip", "data/blob.bin", 6, nil)
	require.NoError(t, err)
	assert.Equal(t, archive.EncodingHex, p.Encoding)

	_, err = h.ExtractPreviewWithClient(ctx, client, "/a.zip", "nope.txt", 0, nil)
	require.ErrorIs(t, err, archive.ErrEntryNotFound)

	_, err = h.ExtractPreviewWithClient(ctx, client, "/a.zip", "docs", 0, nil)
	require.ErrorIs(t, err, archive.ErrEntryNotFound)
}

func TestExtractPreviewWithClientCancelled(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	client := storagetest.New(
		storagetest.WithFile("/a.zip", data),
		storagetest.WithReadHook(func(context.Context, string, uint64, uint64) error {
			cancel()
			return nil
		}),
	)
	_, err := New().ExtractPreviewWithClient(ctx, client, "/a.zip", "docs/readme.txt", 0, nil)
	require.Error(t, err)
	assert.True(t, storage.IsCancelled(err))
}

func TestScanLocalHeaders(t *testing.T) {
	t.Parallel()

	stored := buildStoredZip(t,
		member{name: "a.txt", data: []byte("alpha")},
		member{name: "dir/b.txt", data: []byte("bravo!")},
	)
	entries, complete := ScanLocalHeaders(stored)
	assert.True(t, complete)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir/b.txt", entries[1].Path)
	assert.Equal(t, uint64(6), entries[1].Size)
	assert.Equal(t, 1, entries[1].Index)
	require.NotNil(t, entries[0].CRC32)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("alpha")), *entries[0].CRC32)

	entries, complete = ScanLocalHeaders(stored[:40])
	assert.False(t, complete)
	assert.Len(t, entries, 1)

	streamed := buildZip(t,
		member{name: "first/"},
		member{name: "first/x.txt", data: []byte("deferred"), method: zip.Deflate},
		member{name: "second.txt", data: []byte("unreached"), method: zip.Deflate},
	)
	entries, complete = ScanLocalHeaders(streamed)
	assert.False(t, complete)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "true", entries[1].Metadata["size_deferred"])
	assert.Nil(t, entries[1].CompressedSize)
}

func TestScanLocalHeadersWrappingZip64Size(t *testing.T) {
	t.Parallel()

	name := []byte("a")
	extra := binary.LittleEndian.AppendUint16(nil, zip64ExtraID)
	extra = binary.LittleEndian.AppendUint16(extra, 16)
	dataStart := localHeaderLen + len(name) + 4 + 16
	extra = binary.LittleEndian.AppendUint64(extra, 1)
	extra = binary.LittleEndian.AppendUint64(extra, math.MaxUint64-uint64(dataStart)+1)

	h := binary.LittleEndian.AppendUint32(nil, localHeaderSig)
	h = binary.LittleEndian.AppendUint16(h, 45)
	h = binary.LittleEndian.AppendUint16(h, 0)
	h = binary.LittleEndian.AppendUint16(h, 0)
	h = binary.LittleEndian.AppendUint32(h, 0)
	h = binary.LittleEndian.AppendUint32(h, 0)
	h = binary.LittleEndian.AppendUint32(h, uint32Max)
	h = binary.LittleEndian.AppendUint32(h, uint32Max)
	h = binary.LittleEndian.AppendUint16(h, uint16(len(name)))
	h = binary.LittleEndian.AppendUint16(h, uint16(len(extra)))
	data := append(append(append(h, name...), extra...), "tail"...)

	done := make(chan struct{})
	var (
		entries  []archive.Entry
		complete bool
	)
	go func() {
		defer close(done)
		entries, complete = ScanLocalHeaders(data)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ScanLocalHeaders did not return")
	}
	assert.False(t, complete)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Path)
}

func TestDosTime(t *testing.T) {
	t.Parallel()

	assert.True(t, dosTime(0, 0).IsZero())
	// 2024-03-09 10:30:00
	d := uint16((2024-1980)<<9 | 3<<5 | 9)
	tm := uint16(10<<11 | 30<<5)
	assert.Equal(t, modTime, dosTime(d, tm))
}

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "t0k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		http.ServeContent(w, r, "a.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStreamingAnalysis(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	server := serve(t, data)
	headers := map[string]string{"X-Token": "t0k"}
	ctx := context.Background()
	h := New()

	info, err := h.AnalyzeStreaming(ctx, server.URL, headers, "a.zip", uint64(len(data)))
	require.NoError(t, err)
	n, ok := info.AnalysisStatus.EstimatedEntries()
	require.True(t, ok)
	assert.Equal(t, uint64(4), n)
	assert.Len(t, info.Entries, 4)

	_, err = h.AnalyzeStreaming(ctx, server.URL, nil, "a.zip", uint64(len(data)))
	require.Error(t, err)

	stored := buildStoredZip(t, member{name: "one.txt", data: []byte("1")}, member{name: "two.txt", data: []byte("22")})
	storedServer := serve(t, stored)
	info, err = h.AnalyzeStreamingWithoutSize(ctx, storedServer.URL, headers, "s.zip")
	require.NoError(t, err)
	assert.True(t, info.AnalysisStatus.IsStreaming())
	n, ok = info.AnalysisStatus.EstimatedEntries()
	require.True(t, ok)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(3), info.TotalUncompressedSize)
}

func TestExtractPreviewURL(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	server := serve(t, data)
	headers := map[string]string{"X-Token": "t0k"}

	p, err := New().ExtractPreview(context.Background(), server.URL, headers, "logs/app.log", 10)
	require.NoError(t, err)
	assert.Equal(t, "zstd line\n", p.Content)
	assert.True(t, p.IsTruncated)

	_, err = New().ExtractPreview(context.Background(), server.URL, headers, "missing", 10)
	require.ErrorIs(t, err, archive.ErrEntryNotFound)
}

func TestMethodName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "store", MethodName(0))
	assert.Equal(t, "deflate", MethodName(8))
	assert.Equal(t, "zstd", MethodName(93))
	assert.Equal(t, "42", MethodName(42))
}
