// Package history maintains the navigation stack partial navigations
// manipulate: committed URLs, the traversal index, and per-entry scroll
// offsets. The stack is in-memory session state; a Store journal persists
// visits for session restore.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dompatch/idgen"
)

// Entry is one committed navigation.
type Entry struct {
	ID        string
	URL       string
	ScrollX   int
	ScrollY   int
	CreatedAt time.Time
}

// Manager owns the stack. Safe for concurrent reads; mutations come from
// the navigation controller, which already serializes commits, but the
// internal lock keeps the Manager correct regardless.
type Manager struct {
	mu    sync.Mutex
	stack []Entry
	idx   int // -1 when empty

	store  Store
	newID  idgen.Generator
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore journals visits and scroll updates to persistent storage.
// Store failures are logged, never surfaced: the in-memory stack is the
// source of truth for the session.
func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option { return func(m *Manager) { m.logger = logger } }

// WithIDGenerator overrides the entry ID strategy.
func WithIDGenerator(gen idgen.Generator) Option { return func(m *Manager) { m.newID = gen } }

func withClock(clock func() time.Time) Option { return func(m *Manager) { m.clock = clock } }

// NewManager creates an empty stack.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		idx:    -1,
		newID:  idgen.Prefixed("nav_", idgen.UUIDv7()),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Push commits a new entry after the current one, discarding any forward
// entries (a new navigation from mid-stack rewrites the future, exactly
// like a browser).
func (m *Manager) Push(ctx context.Context, url string) Entry {
	m.mu.Lock()
	e := Entry{ID: m.newID(), URL: url, CreatedAt: m.clock()}
	m.stack = append(m.stack[:m.idx+1], e)
	m.idx = len(m.stack) - 1
	m.mu.Unlock()

	m.journal(ctx, e)
	return e
}

// Replace overwrites the current entry's URL, keeping its position. On an
// empty stack Replace behaves like Push.
func (m *Manager) Replace(ctx context.Context, url string) Entry {
	m.mu.Lock()
	if m.idx < 0 {
		m.mu.Unlock()
		return m.Push(ctx, url)
	}
	e := Entry{ID: m.newID(), URL: url, CreatedAt: m.clock()}
	m.stack[m.idx] = e
	m.mu.Unlock()

	m.journal(ctx, e)
	return e
}

// Current returns the active entry.
func (m *Manager) Current() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx < 0 {
		return Entry{}, false
	}
	return m.stack[m.idx], true
}

// SetScroll records the viewport offsets on the current entry, so a later
// traversal back to it can restore the position.
func (m *Manager) SetScroll(ctx context.Context, x, y int) {
	m.mu.Lock()
	if m.idx < 0 {
		m.mu.Unlock()
		return
	}
	m.stack[m.idx].ScrollX = x
	m.stack[m.idx].ScrollY = y
	e := m.stack[m.idx]
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateScroll(ctx, e.ID, x, y); err != nil {
			m.logger.Warn("history: scroll journal failed", "id", e.ID, "error", err)
		}
	}
}

// Peek returns the entry delta steps from the current position without
// moving the index. Callers that replay an entry before committing to it
// peek first and Seek only once the replay succeeded.
func (m *Manager) Peek(delta int) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.idx + delta
	if m.idx < 0 || i < 0 || i >= len(m.stack) {
		return Entry{}, false
	}
	return m.stack[i], true
}

// Seek moves the index by delta. Reports false without moving when the
// target position is out of range.
func (m *Manager) Seek(delta int) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.idx + delta
	if m.idx < 0 || i < 0 || i >= len(m.stack) {
		return Entry{}, false
	}
	m.idx = i
	return m.stack[i], true
}

// Back moves the index one entry toward the past. Reports false at the
// stack's oldest entry.
func (m *Manager) Back() (Entry, bool) { return m.Seek(-1) }

// Forward moves the index one entry toward the present. Reports false at
// the newest entry.
func (m *Manager) Forward() (Entry, bool) { return m.Seek(1) }

// Len reports the stack depth.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Index reports the current position, -1 when empty.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx
}

func (m *Manager) journal(ctx context.Context, e Entry) {
	if m.store == nil {
		return
	}
	if err := m.store.Append(ctx, e); err != nil {
		m.logger.Warn("history: visit journal failed", "url", e.URL, "error", err)
	}
}
