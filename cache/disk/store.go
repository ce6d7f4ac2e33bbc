// Package disk persists block cache entries on the local filesystem so
// remote archive blocks survive across processes.
package disk

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Store is a cache.BlockStore backed by one file per block, named by the
// block key and sharded into subdirectories by key prefix. When a size
// limit is set the least recently read files are removed once the limit
// is exceeded.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64

	mu      sync.Mutex
	written int64
}

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of key characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of the store. 0 disables the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// New creates a store rooted at dir, creating it when missing.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if s.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("measure cache dir: %w", err)
	}
	s.written = size
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the block stored under key and marks it recently used.
func (s *Store) Get(key string) ([]byte, bool) {
	path, err := s.path(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated hex key
	if err != nil {
		return nil, false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return data, true
}

// Put stores data under key. An existing entry is left untouched. The file
// is written to a temporary name and renamed into place, so readers never
// observe a partial block.
func (s *Store) Put(key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	return s.account(int64(len(data)))
}

// account records n newly written bytes and prunes to 90% of the limit
// once it is exceeded.
func (s *Store) account(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written += n
	if s.maxBytes == 0 || s.written <= s.maxBytes {
		return nil
	}
	_, remaining, err := pruneDir(s.dir, s.maxBytes/10*9)
	if err != nil {
		return err
	}
	s.written = remaining
	return nil
}

// SizeBytes walks the store and returns its total size.
func (s *Store) SizeBytes() (int64, error) {
	return dirSize(s.dir)
}

// Prune removes the least recently used blocks until the store is at or
// below targetBytes and returns the number of bytes freed.
func (s *Store) Prune(targetBytes int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	freed, remaining, err := pruneDir(s.dir, targetBytes)
	if err == nil {
		s.written = remaining
	}
	return freed, err
}

func (s *Store) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("key is empty")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("key is not hex: %w", err)
	}
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, key), nil
	}
	n := min(s.shardPrefixLen, len(key))
	return filepath.Join(s.dir, key[:n], key), nil
}
