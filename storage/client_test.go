package storage_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/storagetest"
)

func TestReadFileRangeWithProgressDegraded(t *testing.T) {
	t.Parallel()

	c := storagetest.New(storagetest.WithFile("/f", []byte("0123456789")))
	var calls [][2]uint64
	data, err := storage.ReadFileRangeWithProgress(context.Background(), c, "/f", 6, 10, func(cur, total uint64) {
		calls = append(calls, [2]uint64{cur, total})
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("6789"), data)
	assert.Equal(t, [][2]uint64{{4, 4}}, calls, "one report with the bytes actually read")
}

func TestReadFullFileWithProgressDegraded(t *testing.T) {
	t.Parallel()

	c := storagetest.New(storagetest.WithFile("/f", []byte("abc")))
	var calls int
	data, err := storage.ReadFullFileWithProgress(context.Background(), c, "/f", func(cur, total uint64) {
		calls++
		assert.Equal(t, uint64(3), cur)
		assert.Equal(t, uint64(3), total)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
	assert.Equal(t, 1, calls)
}

func TestReadWithProgressCancelledBeforeRead(t *testing.T) {
	t.Parallel()

	c := storagetest.New(storagetest.WithForbiddenReads(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.ReadFullFileWithProgress(ctx, c, "/f", nil)
	require.ErrorIs(t, err, storage.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Reads())
}

func TestReadWithProgressCancelledDuringDegradedRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	c := storagetest.New(
		storagetest.WithFile("/f", []byte("payload")),
		storagetest.WithReadHook(func(context.Context, string, uint64, uint64) error {
			cancel()
			return nil
		}),
	)
	var reported bool
	_, err := storage.ReadFullFileWithProgress(ctx, c, "/f", func(uint64, uint64) { reported = true })
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCancelled)
	assert.False(t, reported)
}

func TestReadWithProgressCancelledMidStream(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("x"), 4*storage.DefaultChunkSize)
	ctx, cancel := context.WithCancel(context.Background())
	pc := storagetest.WithProgress(storagetest.New(storagetest.WithFile("/big", data)))
	pc.BeforeChunk = func(delivered uint64) {
		if delivered >= 2*storage.DefaultChunkSize {
			cancel()
		}
	}

	var last uint64
	_, err := storage.ReadFileRangeWithProgress(ctx, pc, "/big", 0, uint64(len(data)), func(cur, total uint64) {
		assert.LessOrEqual(t, cur, total)
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	})
	require.ErrorIs(t, err, storage.ErrCancelled)
	assert.Less(t, last, uint64(len(data)))
	assert.LessOrEqual(t, last, uint64(3*storage.DefaultChunkSize))
}

func TestReadWithProgressChunked(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("y"), storage.DefaultChunkSize*2+10)
	pc := storagetest.WithProgress(storagetest.New(storagetest.WithFile("/f", data)))

	var reports []uint64
	got, err := storage.ReadFullFileWithProgress(context.Background(), pc, "/f", func(cur, total uint64) {
		assert.Equal(t, uint64(len(data)), total)
		reports = append(reports, cur)
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []uint64{storage.DefaultChunkSize, 2 * storage.DefaultChunkSize, uint64(len(data))}, reports)
}

func TestDownloadURLPassthrough(t *testing.T) {
	t.Parallel()

	u, err := storage.DownloadURL(context.Background(), storagetest.New(), "/dir/file.zip")
	require.NoError(t, err)
	assert.Equal(t, "/dir/file.zip", u)
}

func TestReaderAt(t *testing.T) {
	t.Parallel()

	c := storagetest.New(storagetest.WithFile("/f", []byte("hello world")))
	r := storage.NewReaderAt(context.Background(), c, "/f", 11)
	assert.Equal(t, int64(11), r.Size())
	assert.Contains(t, r.SourceID(), "stub:")

	buf := make([]byte, 5)
	n, err := r.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	buf = make([]byte, 10)
	n, err = r.ReadAt(buf, 8)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderAtProgress(t *testing.T) {
	t.Parallel()

	c := storagetest.New(storagetest.WithFile("/f", []byte("hello world")))
	var got [][2]uint64
	r := storage.NewReaderAtWithProgress(context.Background(), c, "/f", 11, func(cur, total uint64) {
		got = append(got, [2]uint64{cur, total})
	})
	buf := make([]byte, 6)
	_, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{6, 11}, {12, 12}}, got)
}
