// Package cache provides an in-memory block cache for random-access archive
// sources. Central-directory and header walks issue many small ReadAt calls
// that land in the same few blocks; the cache turns them into one ranged
// backend read per block.
package cache

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ByteSource provides random access to data for block caching.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// RangeReader provides range reads for block cache fetches.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// DefaultBlockSize is the default block size used by block caches.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt to avoid large sequential reads.
const DefaultMaxBlocksPerRead = 4

// DefaultMaxBytes bounds the in-memory cache when no limit is configured.
const DefaultMaxBytes int64 = 32 << 20

// WrapConfig controls block cache wrapping behavior.
type WrapConfig struct {
	BlockSize        int64
	MaxBlocksPerRead int
}

// DefaultWrapConfig returns the default block cache configuration.
func DefaultWrapConfig() WrapConfig {
	return WrapConfig{
		BlockSize:        DefaultBlockSize,
		MaxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
}

// WrapOption configures block cache wrapping behavior.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.BlockSize = n
	}
}

// WithMaxBlocksPerRead bypasses caching when a ReadAt spans more than n blocks.
// Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.MaxBlocksPerRead = n
	}
}

// BlockStore is a slower cache tier consulted on memory misses, such as
// disk.Store. Keys are hex SHA-256 strings. Put failures are ignored.
type BlockStore interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

// BlockCache keeps recently used blocks in memory, evicting the least
// recently used block once maxBytes is exceeded. It is safe for concurrent
// use; concurrent misses on the same block share one fetch.
type BlockCache struct {
	mu         sync.Mutex
	maxBytes   int64
	bytes      int64
	lru        *list.List
	blocks     map[string]*list.Element
	fetchGroup singleflight.Group
	store      BlockStore
}

type block struct {
	key  string
	data []byte
}

// Option configures a BlockCache.
type Option func(*BlockCache)

// WithMaxBytes sets the memory limit. Values <= 0 select DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(c *BlockCache) {
		c.maxBytes = n
	}
}

// WithStore adds a second tier below memory. Blocks fetched from a source
// are written through to it.
func WithStore(s BlockStore) Option {
	return func(c *BlockCache) {
		c.store = s
	}
}

// New creates an empty BlockCache.
func New(opts ...Option) *BlockCache {
	c := &BlockCache{
		lru:    list.New(),
		blocks: make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	return c
}

// Wrap returns a ByteSource that caches reads in fixed-size blocks.
func (c *BlockCache) Wrap(src ByteSource, opts ...WrapOption) (ByteSource, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	cfg := DefaultWrapConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BlockSize <= 0 {
		return nil, errors.New("block cache: block size must be > 0")
	}
	if cfg.BlockSize > math.MaxInt {
		return nil, errors.New("block cache: block size exceeds max int")
	}
	if cfg.MaxBlocksPerRead < 0 {
		return nil, errors.New("block cache: max blocks per read must be >= 0")
	}
	sourceID := src.SourceID()
	if sourceID == "" {
		return nil, errors.New("block cache: source id is empty")
	}
	return &cachedSource{
		src:              src,
		cache:            c,
		sourceID:         sourceID,
		blockSize:        cfg.BlockSize,
		maxBlocksPerRead: cfg.MaxBlocksPerRead,
	}, nil
}

// MaxBytes returns the configured cache size limit.
func (c *BlockCache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *BlockCache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Prune evicts blocks until the cache is at or below targetBytes and
// returns the number of bytes freed.
func (c *BlockCache) Prune(targetBytes int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(max(targetBytes, 0))
}

func (c *BlockCache) pruneLocked(targetBytes int64) int64 {
	var freed int64
	for c.bytes > targetBytes {
		el := c.lru.Back()
		if el == nil {
			break
		}
		b := c.lru.Remove(el).(*block)
		delete(c.blocks, b.key)
		c.bytes -= int64(len(b.data))
		freed += int64(len(b.data))
	}
	return freed
}

func (c *BlockCache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.blocks[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*block).data, true
}

func (c *BlockCache) keep(key string, data []byte) {
	size := int64(len(data))
	if size == 0 || size > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocks[key]; ok {
		return
	}
	c.pruneLocked(c.maxBytes - size)
	c.blocks[key] = c.lru.PushFront(&block{key: key, data: data})
	c.bytes += size
}

func (c *BlockCache) getBlock(sourceID string, blockSize, blockIndex, blockLen int64, fetch func() ([]byte, error)) ([]byte, error) {
	key := blockKeyHex(sourceID, blockSize, blockIndex)
	if data, ok := c.lookup(key); ok && int64(len(data)) == blockLen {
		return data, nil
	}
	result, err, _ := c.fetchGroup.Do(key, func() (any, error) {
		if c.store != nil {
			if data, ok := c.store.Get(key); ok && int64(len(data)) == blockLen {
				c.keep(key, data)
				return data, nil
			}
		}
		data, err := fetch()
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != blockLen {
			return nil, io.ErrUnexpectedEOF
		}
		c.keep(key, data)
		if c.store != nil {
			_ = c.store.Put(key, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func blockKeyHex(sourceID string, blockSize, blockIndex int64) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(sourceID))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(blockSize))
	binary.BigEndian.PutUint64(buf[8:], uint64(blockIndex))
	_, _ = hasher.Write(buf[:])
	return hex.EncodeToString(hasher.Sum(nil))
}

// cachedSource wraps a ByteSource with block-level caching.
type cachedSource struct {
	src              ByteSource
	cache            *BlockCache
	sourceID         string
	blockSize        int64
	maxBlocksPerRead int
}

func (s *cachedSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	expected := min(int64(len(p)), size-off)
	startBlock := off / s.blockSize
	endBlock := (off + expected - 1) / s.blockSize
	if s.maxBlocksPerRead > 0 && endBlock-startBlock+1 > int64(s.maxBlocksPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for blockIndex := startBlock; blockIndex <= endBlock; blockIndex++ {
		blockStart := blockIndex * s.blockSize
		blockEnd := min(blockStart+s.blockSize, size)
		blockLen := blockEnd - blockStart

		data, err := s.cache.getBlock(s.sourceID, s.blockSize, blockIndex, blockLen, func() ([]byte, error) {
			return s.readBlockFromSource(blockStart, blockLen)
		})
		if err != nil {
			return int(n), err
		}

		copyStart := max(off, blockStart)
		copyEnd := min(off+expected, blockEnd)
		if length := copyEnd - copyStart; length > 0 {
			dst := copyStart - off
			src := copyStart - blockStart
			copy(p[dst:dst+length], data[src:src+length])
			n += length
		}
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// ReadRange serves a range through the cache.
func (s *cachedSource) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	return io.NopCloser(io.NewSectionReader(s, off, min(length, size-off))), nil
}

func (s *cachedSource) Size() int64 {
	return s.src.Size()
}

func (s *cachedSource) SourceID() string {
	return s.sourceID
}

func (s *cachedSource) readBlockFromSource(off, length int64) ([]byte, error) {
	if rr, ok := s.src.(RangeReader); ok {
		rc, err := rr.ReadRange(off, length)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	buf := make([]byte, int(length))
	n, err := s.src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
