package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardustai/webdav-viewer/cache"
)

func key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestStorePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	k := key("block-a")
	_, ok := s.Get(k)
	assert.False(t, ok)

	require.NoError(t, s.Put(k, []byte("payload")))
	got, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	_, err = os.Stat(filepath.Join(dir, k[:2], k))
	require.NoError(t, err, "sharded by key prefix")

	require.NoError(t, s.Put(k, []byte("ignored")))
	got, _ = s.Get(k)
	assert.Equal(t, "payload", string(got), "existing entry kept")
}

func TestStoreRejectsBadKeys(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Put("", []byte("x")))
	require.Error(t, s.Put("../escape", []byte("x")))
	_, ok := s.Get("not-hex")
	assert.False(t, ok)
}

func TestStoreShardDisable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	k := key("flat")
	require.NoError(t, s.Put(k, []byte("flat")))
	_, err = os.Stat(filepath.Join(dir, k))
	require.NoError(t, err)
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
	_, err = New(t.TempDir(), WithMaxBytes(-1))
	require.Error(t, err)
}

func TestStorePrune(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	old, fresh := key("old"), key("fresh")
	require.NoError(t, s.Put(old, make([]byte, 100)))
	require.NoError(t, s.Put(fresh, make([]byte, 100)))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), old[:2], old), past, past))

	size, err := s.SizeBytes()
	require.NoError(t, err)
	assert.EqualValues(t, 200, size)

	freed, err := s.Prune(150)
	require.NoError(t, err)
	assert.EqualValues(t, 100, freed)
	_, ok := s.Get(old)
	assert.False(t, ok)
	_, ok = s.Get(fresh)
	assert.True(t, ok)
}

func TestStoreMaxBytes(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), WithMaxBytes(250))
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, s.Put(key(string(rune('a'+i))), make([]byte, 100)))
	}
	size, err := s.SizeBytes()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(250))
}

type countingSource struct {
	data  []byte
	reads atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if off+int64(n) >= int64(len(s.data)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *countingSource) Size() int64      { return int64(len(s.data)) }
func (s *countingSource) SourceID() string { return "url:https://example.com/a.zip|etag:\"1\"" }

func TestBlockCacheTier(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	data := []byte("abcdefghijklmnopqrstuvwxyz")

	first := &countingSource{data: data}
	cached, err := cache.New(cache.WithStore(store)).Wrap(first, cache.WithBlockSize(8))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = cached.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.reads.Load())

	// A fresh memory tier, as in a new process, is served from disk.
	second := &countingSource{data: data}
	cached, err = cache.New(cache.WithStore(store)).Wrap(second, cache.WithBlockSize(8))
	require.NoError(t, err)
	_, err = cached.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(buf))
	assert.Zero(t, second.reads.Load())
}
