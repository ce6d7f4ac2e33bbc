package archive

import (
	"context"
	"slices"
	"sync"

	"github.com/stardustai/webdav-viewer/storage"
)

// Handler is implemented once per container format.
//
// The URL-based operations fetch bytes with HTTP range requests; headers are
// added to every request. The client-based operations read through a
// storage.Client so local and remote backends share one code path.
// A maxSize of 0 means no limit.
type Handler interface {
	CompressionType() CompressionType

	// ValidateFormat is a cheap signature check on a prefix buffer.
	ValidateFormat(data []byte) bool

	// AnalyzeComplete analyzes an archive held entirely in memory and
	// returns exact results.
	AnalyzeComplete(ctx context.Context, data []byte) (*Info, error)

	// AnalyzeStreaming reads bounded prefixes of an archive of known size
	// and returns estimates.
	AnalyzeStreaming(ctx context.Context, url string, headers map[string]string, filename string, size uint64) (*Info, error)

	// AnalyzeStreamingWithoutSize is AnalyzeStreaming when the size is
	// unknown; entries may carry placeholder sizes.
	AnalyzeStreamingWithoutSize(ctx context.Context, url string, headers map[string]string, filename string) (*Info, error)

	// ExtractPreview returns at most maxSize decoded bytes of entryPath.
	ExtractPreview(ctx context.Context, url string, headers map[string]string, entryPath string, maxSize uint64) (*FilePreview, error)

	AnalyzeWithClient(ctx context.Context, client storage.Client, path, filename string, maxSize uint64) (*Info, error)

	// ExtractPreviewWithClient previews entryPath through client. progress
	// observes backend reads; cancellation is carried by ctx.
	ExtractPreviewWithClient(ctx context.Context, client storage.Client, path, entryPath string, maxSize uint64, progress storage.ProgressFunc) (*FilePreview, error)
}

// Registry maps compression types to handlers. It is safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[CompressionType]Handler
}

// NewRegistry returns a registry holding handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[CompressionType]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds h, replacing any handler for the same type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.CompressionType()] = h
}

// Get returns the handler for typ.
func (r *Registry) Get(typ CompressionType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Detect resolves a handler from a header prefix: DetectMagic first, then
// each handler's own ValidateFormat in type order.
func (r *Registry) Detect(header []byte) (Handler, bool) {
	if h, ok := r.Get(DetectMagic(header)); ok {
		return h, true
	}
	for _, typ := range r.Types() {
		h, _ := r.Get(typ)
		if h.ValidateFormat(header) {
			return h, true
		}
	}
	return nil, false
}

// Types lists the registered types in ascending order.
func (r *Registry) Types() []CompressionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CompressionType, 0, len(r.handlers))
	for typ := range r.handlers {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}
