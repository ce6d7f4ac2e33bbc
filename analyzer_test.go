package viewer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/storagetest"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gzipOf(t *testing.T, name string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUnsupportedFormatRejectedBeforeRead(t *testing.T) {
	t.Parallel()

	client := storagetest.New(
		storagetest.WithFile("archive.7z", []byte("7z\xbc\xaf\x27\x1c")),
		storagetest.WithForbiddenReads(t),
	)
	a := New()
	ctx := context.Background()

	for _, name := range []string{"archive.7z", "backup.RAR", "data.lz4", "data.zst"} {
		_, err := a.AnalyzeArchiveWithClient(ctx, client, name, name, 0)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		var ufe *UnsupportedFormatError
		require.ErrorAs(t, err, &ufe)
		assert.True(t, strings.HasPrefix(ufe.Code(), "archive.format."), ufe.Code())
		assert.True(t, strings.HasSuffix(ufe.Code(), ".not.supported"), ufe.Code())
	}

	_, err := a.GetFilePreviewWithClient(ctx, client, "archive.7z", "archive.7z", "a.txt", 0, nil)
	assert.EqualError(t, err, "archive.format.7z.not.supported")
	assert.Zero(t, client.Reads())
}

func TestAnalyzeArchiveWithClientSniffing(t *testing.T) {
	t.Parallel()

	client := storagetest.New(
		storagetest.WithFile("upload.bin", zipOf(t, map[string]string{"a.txt": "alpha", "b/c.txt": "gamma"})),
		storagetest.WithFile("blob.dat", gzipOf(t, "report.csv", []byte("a,b\n1,2\n"))),
		storagetest.WithFile("seven.bin", []byte("7z\xbc\xaf\x27\x1c\x00\x04")),
		storagetest.WithFile("notes.bin", []byte("just some text")),
	)
	a := New()
	ctx := context.Background()

	info, err := a.AnalyzeArchiveWithClient(ctx, client, "upload.bin", "upload.bin", 0)
	require.NoError(t, err)
	assert.Equal(t, archive.Zip, info.CompressionType)
	assert.Equal(t, 2, info.TotalEntries)
	assert.True(t, info.AnalysisStatus.IsComplete())

	info, err = a.AnalyzeArchiveWithClient(ctx, client, "blob.dat", "blob.dat", 0)
	require.NoError(t, err)
	assert.Equal(t, archive.Gzip, info.CompressionType)
	require.Len(t, info.Entries, 1)
	assert.Equal(t, "report.csv", info.Entries[0].Path)

	_, err = a.AnalyzeArchiveWithClient(ctx, client, "seven.bin", "seven.bin", 0)
	assert.EqualError(t, err, "archive.format.7z.not.supported")

	_, err = a.AnalyzeArchiveWithClient(ctx, client, "notes.bin", "notes.bin", 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.EqualError(t, err, "Unsupported archive format")

	_, err = a.AnalyzeArchiveWithClient(ctx, client, "missing.bin", "missing.bin", 0)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Failed to read file header: "), err.Error())
}

func TestGetFilePreviewWithClient(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("log line\n", 100)
	client := storagetest.New(storagetest.WithFile("logs/app.zip", zipOf(t, map[string]string{"app.log": body})))
	a := New()
	ctx := context.Background()

	var calls int
	p, err := a.GetFilePreviewWithClient(ctx, client, "logs/app.zip", "app.zip", "app.log", 0, func(_, _ uint64) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, body, p.Content)
	assert.False(t, p.IsTruncated)
	assert.Equal(t, uint64(len(body)), p.TotalSize)
	assert.Positive(t, calls)

	p, err = a.GetFilePreviewWithClient(ctx, client, "logs/app.zip", "app.zip", "app.log", 9, nil)
	require.NoError(t, err)
	assert.Equal(t, "log line\n", p.Content)
	assert.True(t, p.IsTruncated)

	_, err = a.GetFilePreviewWithClient(ctx, client, "logs/app.zip", "app.zip", "nope.log", 0, nil)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestGetFilePreviewWithClientCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := storagetest.New(
		storagetest.WithFile("a.zip", zipOf(t, map[string]string{"a.txt": "alpha"})),
		storagetest.WithReadHook(func(context.Context, string, uint64, uint64) error {
			cancel()
			return nil
		}),
	)
	_, err := New().GetFilePreviewWithClient(ctx, client, "a.zip", "a.zip", "a.txt", 0, nil)
	require.Error(t, err)
	assert.True(t, storage.IsCancelled(err), err.Error())
	assert.True(t, errors.Is(err, ErrCancelled))
}

type recordingHandler struct {
	archive.Handler
	called bool
}

func (h *recordingHandler) AnalyzeWithClient(context.Context, storage.Client, string, string, uint64) (*archive.Info, error) {
	h.called = true
	return archive.NewInfoBuilder(archive.Zip).Entries([]archive.Entry{}).Status(archive.Complete()).Build()
}

func TestWithHandler(t *testing.T) {
	t.Parallel()

	zh, ok := New().Registry().Get(archive.Zip)
	require.True(t, ok)
	h := &recordingHandler{Handler: zh}
	a := New(WithHandler(h))
	client := storagetest.New(storagetest.WithForbiddenReads(t))

	_, err := a.AnalyzeArchiveWithClient(context.Background(), client, "x.zip", "x.zip", 0)
	require.NoError(t, err)
	assert.True(t, h.called)
}

func serveArchives(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAnalyzeArchiveURL(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("remote bytes "), 5000)
	zipped := zipOf(t, map[string]string{"one.txt": "1", "two.txt": "22"})
	server := serveArchives(t, map[string][]byte{
		"/data.gz":      gzipOf(t, "data.txt", payload),
		"/bundle":       zipped,
		"/bundle.zip":   zipped,
		"/notes.7z":     []byte("never fetched"),
		"/opaque-bytes": []byte("plain text, no magic"),
	})
	a := New()
	ctx := context.Background()

	info, err := a.AnalyzeArchive(ctx, server.URL+"/data.gz", nil, "data.gz", 0)
	require.NoError(t, err)
	assert.True(t, info.AnalysisStatus.IsComplete())
	assert.Equal(t, uint64(len(payload)), info.TotalUncompressedSize)

	info, err = a.AnalyzeArchive(ctx, server.URL+"/data.gz", nil, "data.gz", 16)
	require.NoError(t, err)
	assert.True(t, info.AnalysisStatus.IsStreaming())

	info, err = a.AnalyzeArchive(ctx, server.URL+"/bundle", map[string]string{"X-Trace": "1"}, "bundle", 0)
	require.NoError(t, err)
	assert.Equal(t, archive.Zip, info.CompressionType)
	assert.Equal(t, 2, info.TotalEntries)

	_, err = a.AnalyzeArchive(ctx, server.URL+"/notes.7z", nil, "notes.7z", 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = a.AnalyzeArchive(ctx, server.URL+"/opaque-bytes", nil, "opaque-bytes", 0)
	assert.EqualError(t, err, "Unsupported archive format")

	p, err := a.ExtractFilePreview(ctx, server.URL+"/bundle.zip", nil, "bundle.zip", "two.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "22", p.Content)
}

func TestFilenameHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSupportedArchive("a.zip"))
	assert.True(t, IsSupportedArchive("A.TAR.GZ"))
	assert.True(t, IsSupportedArchive("a.7z"))
	assert.False(t, IsSupportedArchive("a.txt"))

	assert.True(t, SupportsStreaming("a.tgz"))
	assert.False(t, SupportsStreaming("a.zip"))

	assert.Equal(t, archive.TarGz, CompressionInfo("x.tar.gz"))
	assert.Equal(t, archive.Unknown, CompressionInfo("x"))

	assert.Equal(t, []string{"zip", "tar", "tar.gz", "tgz", "gz", "gzip"}, SupportedFormats())

	assert.Equal(t, 1<<20, RecommendedChunkSize("big.zip", 100<<30))
	assert.Equal(t, 8<<20, RecommendedChunkSize("big.tar", 100<<30))
	assert.Equal(t, 4<<10, RecommendedChunkSize("tiny.zip", 10))
}
