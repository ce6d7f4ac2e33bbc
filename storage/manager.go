package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory creates an unconnected backend for a protocol.
type Factory func(cfg *ConnectionConfig) (Client, error)

// Manager owns at most one active backend at a time and routes the uniform
// operations to it.
//
// The lock guards only the registration map and the active id; it is never
// held across backend I/O, so concurrent reads through the same backend run
// in parallel once the handle has been obtained.
type Manager struct {
	mu        sync.Mutex
	clients   map[string]Client
	active    string
	factories map[string]Factory
	now       func() time.Time
	logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBackend registers a factory for protocol. Later registrations for the
// same protocol replace earlier ones.
func WithBackend(protocol string, f Factory) ManagerOption {
	return func(m *Manager) {
		m.factories[protocol] = f
	}
}

// WithManagerLogger sets the logger used for connection lifecycle events.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source used for connection ids.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with no active connection.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:   make(map[string]Client),
		factories: make(map[string]Factory),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Connect creates a new backend for cfg, connects it and makes it active.
// An identical config never reuses an existing instance. The previously
// active backend, if any, is disconnected and unregistered once the new one
// is connected. It returns the new connection id.
func (m *Manager) Connect(ctx context.Context, cfg *ConnectionConfig) (string, error) {
	if cfg == nil {
		return "", Errorf(KindInvalidConfig, "connection config is nil")
	}
	m.mu.Lock()
	factory, ok := m.factories[cfg.Protocol]
	m.mu.Unlock()
	if !ok {
		return "", Errorf(KindUnsupportedProtocol, "%s", cfg.Protocol)
	}

	client, err := factory(cfg)
	if err != nil {
		return "", err
	}
	if err := client.Connect(ctx, cfg); err != nil {
		return "", err
	}

	id := fmt.Sprintf("%s_%d_%s", cfg.Protocol, m.now().Unix(), uuid.NewString()[:8])

	m.mu.Lock()
	prevID := m.active
	prev := m.clients[prevID]
	delete(m.clients, prevID)
	m.clients[id] = client
	m.active = id
	m.mu.Unlock()

	m.logger.Debug("storage connected", slog.String("id", id), slog.String("protocol", cfg.Protocol))
	if prev != nil {
		if err := prev.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect superseded backend", slog.String("id", prevID), slog.String("error", err.Error()))
		}
	}
	return id, nil
}

// Disconnect disconnects and unregisters the active backend. It is a no-op
// when nothing is connected.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	id := m.active
	client := m.clients[id]
	delete(m.clients, id)
	m.active = ""
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	m.logger.Debug("storage disconnected", slog.String("id", id))
	return client.Disconnect(ctx)
}

// IsConnected reports whether a backend is active.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != ""
}

// ActiveID returns the active connection id, or "" when disconnected.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Active returns a shared handle to the active backend. The handle stays
// usable after the lock is released; callers may keep it for the duration
// of an operation even if another connect supersedes it.
func (m *Manager) Active() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil, ErrNotConnected
	}
	client, ok := m.clients[m.active]
	if !ok {
		return nil, ErrNotConnected
	}
	return client, nil
}

// CurrentCapabilities returns the active backend's capabilities.
func (m *Manager) CurrentCapabilities() (Capabilities, bool) {
	client, err := m.Active()
	if err != nil {
		return Capabilities{}, false
	}
	return client.Capabilities(), true
}

// SupportedProtocols lists the registered protocols in sorted order.
func (m *Manager) SupportedProtocols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.factories))
	for p := range m.factories {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Request routes to the active backend.
func (m *Manager) Request(ctx context.Context, req *Request) (*Response, error) {
	client, err := m.Active()
	if err != nil {
		return nil, err
	}
	return client.Request(ctx, req)
}

// RequestBinary routes to the active backend.
func (m *Manager) RequestBinary(ctx context.Context, req *Request) ([]byte, error) {
	client, err := m.Active()
	if err != nil {
		return nil, err
	}
	return client.RequestBinary(ctx, req)
}

// ListDirectory routes to the active backend.
func (m *Manager) ListDirectory(ctx context.Context, path string, opts *ListOptions) (*DirectoryResult, error) {
	client, err := m.Active()
	if err != nil {
		return nil, err
	}
	return client.ListDirectory(ctx, path, opts)
}

// ReadFileRange routes to the active backend.
func (m *Manager) ReadFileRange(ctx context.Context, path string, start, length uint64) ([]byte, error) {
	client, err := m.Active()
	if err != nil {
		return nil, err
	}
	return client.ReadFileRange(ctx, path, start, length)
}

// ReadFullFile routes to the active backend.
func (m *Manager) ReadFullFile(ctx context.Context, path string) ([]byte, error) {
	client, err := m.Active()
	if err != nil {
		return nil, err
	}
	return client.ReadFullFile(ctx, path)
}

// FileSize routes to the active backend.
func (m *Manager) FileSize(ctx context.Context, path string) (uint64, error) {
	client, err := m.Active()
	if err != nil {
		return 0, err
	}
	return client.FileSize(ctx, path)
}
