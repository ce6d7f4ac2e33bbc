// Package backends wires every built-in storage protocol into a
// [storage.Manager].
package backends

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/local"
	"github.com/stardustai/webdav-viewer/storage/s3"
	"github.com/stardustai/webdav-viewer/storage/webdav"
)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	extra      []storage.ManagerOption
}

// Option configures NewManager.
type Option func(*options)

// WithLogger sets the logger shared by the manager and every backend.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used by the network backends.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithManagerOptions passes extra options through to storage.NewManager.
// They are applied after the built-in backends, so WithBackend can replace
// one of them.
func WithManagerOptions(opts ...storage.ManagerOption) Option {
	return func(o *options) {
		o.extra = append(o.extra, opts...)
	}
}

// NewManager returns a manager with the local, webdav, s3 and oss protocols
// registered.
func NewManager(opts ...Option) *storage.Manager {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	davOpts := []webdav.Option{webdav.WithLogger(o.logger.With(slog.String("backend", webdav.Protocol)))}
	s3Opts := []s3.Option{s3.WithLogger(o.logger.With(slog.String("backend", s3.Protocol)))}
	if o.httpClient != nil {
		davOpts = append(davOpts, webdav.WithHTTPClient(o.httpClient))
		s3Opts = append(s3Opts, s3.WithHTTPClient(o.httpClient))
	}

	managerOpts := []storage.ManagerOption{
		storage.WithManagerLogger(o.logger),
		storage.WithBackend(local.Protocol, local.Factory(local.WithLogger(o.logger.With(slog.String("backend", local.Protocol))))),
		storage.WithBackend(webdav.Protocol, webdav.Factory(davOpts...)),
		storage.WithBackend(s3.Protocol, s3.Factory(s3Opts...)),
		storage.WithBackend(s3.ProtocolOSS, s3.Factory(s3Opts...)),
	}
	return storage.NewManager(append(managerOpts, o.extra...)...)
}

// Default returns the process-wide manager, created on first use with every
// built-in backend and no logging. Prefer passing a manager from NewManager
// explicitly; Default exists for hosts that need a single shared handle.
var Default = sync.OnceValue(func() *storage.Manager {
	return NewManager()
})
