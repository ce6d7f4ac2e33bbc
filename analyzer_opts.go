package viewer

import (
	"log/slog"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/cache"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. Handlers log through it with a format
// attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithHTTPOptions adds options to every HTTP request made by the URL-based
// operations, such as authentication headers or a custom client.
func WithHTTPOptions(opts ...viewerhttp.Option) Option {
	return func(a *Analyzer) {
		a.httpOpts = append(a.httpOpts, opts...)
	}
}

// WithBlockCache sets the block cache shared by the random-access
// handlers.
//
// By default each Analyzer owns a cache of [cache.DefaultMaxBytes].
func WithBlockCache(c *cache.BlockCache) Option {
	return func(a *Analyzer) {
		a.blocks = c
	}
}

// WithRegistry replaces the default handler registry.
func WithRegistry(r *archive.Registry) Option {
	return func(a *Analyzer) {
		a.registry = r
	}
}

// WithHandler registers h on top of the registry, replacing any handler
// for the same compression type.
func WithHandler(h archive.Handler) Option {
	return func(a *Analyzer) {
		a.extra = append(a.extra, h)
	}
}
