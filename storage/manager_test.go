package storage_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/storagetest"
)

func newStubManager(t *testing.T, created *[]*storagetest.Client) *storage.Manager {
	t.Helper()
	var mu sync.Mutex
	return storage.NewManager(
		storage.WithBackend("stub", func(*storage.ConnectionConfig) (storage.Client, error) {
			c := storagetest.New(storagetest.WithFile("/a.txt", []byte("hello")))
			if created != nil {
				mu.Lock()
				*created = append(*created, c)
				mu.Unlock()
			}
			return c, nil
		}),
		storage.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestManagerNotConnected(t *testing.T) {
	t.Parallel()

	m := newStubManager(t, nil)
	ctx := context.Background()

	assert.False(t, m.IsConnected())
	_, ok := m.CurrentCapabilities()
	assert.False(t, ok)

	_, err := m.ReadFileRange(ctx, "/a.txt", 0, 1)
	require.ErrorIs(t, err, storage.ErrNotConnected)
	_, err = m.ReadFullFile(ctx, "/a.txt")
	require.ErrorIs(t, err, storage.ErrNotConnected)
	_, err = m.FileSize(ctx, "/a.txt")
	require.ErrorIs(t, err, storage.ErrNotConnected)
	_, err = m.ListDirectory(ctx, "/", nil)
	require.ErrorIs(t, err, storage.ErrNotConnected)
	_, err = m.Request(ctx, &storage.Request{Method: "GET", URL: "/a.txt"})
	require.ErrorIs(t, err, storage.ErrNotConnected)
	_, err = m.RequestBinary(ctx, &storage.Request{Method: "GET", URL: "/a.txt"})
	require.ErrorIs(t, err, storage.ErrNotConnected)

	require.NoError(t, m.Disconnect(ctx))
}

func TestManagerUnsupportedProtocol(t *testing.T) {
	t.Parallel()

	m := newStubManager(t, nil)
	_, err := m.Connect(context.Background(), &storage.ConnectionConfig{Protocol: "ftp"})
	require.ErrorIs(t, err, storage.ErrUnsupportedProtocol)
	assert.Contains(t, err.Error(), "ftp")
	assert.False(t, m.IsConnected())

	_, err = m.Connect(context.Background(), nil)
	require.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestManagerConnectRoutes(t *testing.T) {
	t.Parallel()

	m := newStubManager(t, nil)
	ctx := context.Background()

	id, err := m.Connect(ctx, &storage.ConnectionConfig{Protocol: "stub"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^stub_1700000000_[0-9a-f]{8}$`), id)
	assert.Equal(t, id, m.ActiveID())
	assert.True(t, m.IsConnected())

	caps, ok := m.CurrentCapabilities()
	require.True(t, ok)
	assert.True(t, caps.SupportsRangeRequests)

	data, err := m.ReadFileRange(ctx, "/a.txt", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ell"), data)

	size, err := m.FileSize(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), size)

	res, err := m.ListDirectory(ctx, "/", nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "a.txt", res.Files[0].Basename)

	require.NoError(t, m.Disconnect(ctx))
	assert.False(t, m.IsConnected())
	assert.Empty(t, m.ActiveID())
}

func TestManagerConnectSupersedes(t *testing.T) {
	t.Parallel()

	var created []*storagetest.Client
	m := newStubManager(t, &created)
	ctx := context.Background()
	cfg := &storage.ConnectionConfig{Protocol: "stub"}

	first, err := m.Connect(ctx, cfg)
	require.NoError(t, err)
	second, err := m.Connect(ctx, cfg)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "identical configs must yield distinct instances")
	require.Len(t, created, 2)
	assert.False(t, created[0].IsConnected(), "superseded backend should be disconnected")
	assert.True(t, created[1].IsConnected())
	assert.Equal(t, second, m.ActiveID())

	active, err := m.Active()
	require.NoError(t, err)
	assert.Same(t, created[1], active)
}

func TestManagerFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := storage.NewManager(storage.WithBackend("bad", func(*storage.ConnectionConfig) (storage.Client, error) {
		return nil, storage.Errorf(storage.KindInvalidConfig, "factory: %w", boom)
	}))
	_, err := m.Connect(context.Background(), &storage.ConnectionConfig{Protocol: "bad"})
	require.ErrorIs(t, err, storage.ErrInvalidConfig)
	require.ErrorIs(t, err, boom)
	assert.False(t, m.IsConnected())
}

func TestManagerConcurrentReads(t *testing.T) {
	t.Parallel()

	m := newStubManager(t, nil)
	ctx := context.Background()
	_, err := m.Connect(ctx, &storage.ConnectionConfig{Protocol: "stub"})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := m.ReadFullFile(ctx, "/a.txt")
			if err != nil {
				errs <- err
				return
			}
			if string(data) != "hello" {
				errs <- errors.New("unexpected content " + string(data))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestManagerSupportedProtocols(t *testing.T) {
	t.Parallel()

	noop := func(*storage.ConnectionConfig) (storage.Client, error) { return storagetest.New(), nil }
	m := storage.NewManager(
		storage.WithBackend("webdav", noop),
		storage.WithBackend("local", noop),
		storage.WithBackend("s3", noop),
	)
	assert.Equal(t, []string{"local", "s3", "webdav"}, m.SupportedProtocols())
}
