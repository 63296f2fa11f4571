package history

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/dompatch/dbopen"

	_ "modernc.org/sqlite"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushAndTraverse(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithLogger(discard()))

	m.Push(ctx, "/")
	m.Push(ctx, "/docs")
	m.Push(ctx, "/docs/intro")

	if m.Len() != 3 || m.Index() != 2 {
		t.Fatalf("len=%d idx=%d, want 3/2", m.Len(), m.Index())
	}

	e, ok := m.Back()
	if !ok || e.URL != "/docs" {
		t.Fatalf("Back = %+v %v, want /docs", e, ok)
	}
	e, ok = m.Back()
	if !ok || e.URL != "/" {
		t.Fatalf("Back = %+v %v, want /", e, ok)
	}
	if _, ok := m.Back(); ok {
		t.Error("Back past the oldest entry succeeded")
	}

	e, ok = m.Forward()
	if !ok || e.URL != "/docs" {
		t.Fatalf("Forward = %+v %v, want /docs", e, ok)
	}
}

func TestPeekDoesNotMoveIndex(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithLogger(discard()))

	m.Push(ctx, "/a")
	m.Push(ctx, "/b")

	e, ok := m.Peek(-1)
	if !ok || e.URL != "/a" {
		t.Fatalf("Peek(-1) = %+v %v, want /a", e, ok)
	}
	if m.Index() != 1 {
		t.Errorf("Peek moved the index to %d", m.Index())
	}
	if _, ok := m.Peek(-2); ok {
		t.Error("Peek past the oldest entry succeeded")
	}
	if _, ok := m.Peek(1); ok {
		t.Error("Peek past the newest entry succeeded")
	}

	e, ok = m.Seek(-1)
	if !ok || e.URL != "/a" || m.Index() != 0 {
		t.Fatalf("Seek(-1) = %+v %v idx=%d, want /a at 0", e, ok, m.Index())
	}
	if _, ok := m.Seek(-1); ok || m.Index() != 0 {
		t.Errorf("out-of-range Seek moved the index to %d", m.Index())
	}
}

func TestPushTruncatesForwardEntries(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithLogger(discard()))

	m.Push(ctx, "/a")
	m.Push(ctx, "/b")
	m.Push(ctx, "/c")
	m.Back()
	m.Back() // at /a
	m.Push(ctx, "/d")

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2 (/a, /d)", m.Len())
	}
	if _, ok := m.Forward(); ok {
		t.Error("forward entries survived a mid-stack push")
	}
	if cur, _ := m.Current(); cur.URL != "/d" {
		t.Errorf("current = %q, want /d", cur.URL)
	}
}

func TestReplaceKeepsPosition(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithLogger(discard()))

	// Replace on an empty stack behaves like Push.
	m.Replace(ctx, "/landing")
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}

	m.Push(ctx, "/step-1")
	m.Replace(ctx, "/step-1?tab=2")
	if m.Len() != 2 || m.Index() != 1 {
		t.Fatalf("len=%d idx=%d, want 2/1", m.Len(), m.Index())
	}
	if cur, _ := m.Current(); cur.URL != "/step-1?tab=2" {
		t.Errorf("current = %q, want replaced URL", cur.URL)
	}
}

func TestScrollRestoredOnTraversal(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithLogger(discard()))

	m.Push(ctx, "/long-page")
	m.SetScroll(ctx, 0, 1480)
	m.Push(ctx, "/next")

	e, ok := m.Back()
	if !ok || e.ScrollY != 1480 {
		t.Fatalf("Back = %+v, want ScrollY 1480", e)
	}
}

func TestSQLStoreJournal(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	store := NewSQLStore(db)

	m := NewManager(WithStore(store), WithLogger(discard()),
		withClock(func() time.Time { return time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC) }))

	e := m.Push(ctx, "/journaled")
	m.SetScroll(ctx, 12, 340)

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].ID != e.ID || got[0].URL != "/journaled" {
		t.Errorf("journaled entry = %+v", got[0])
	}
	if got[0].ScrollX != 12 || got[0].ScrollY != 340 {
		t.Errorf("scroll = %d,%d, want 12,340", got[0].ScrollX, got[0].ScrollY)
	}
}
