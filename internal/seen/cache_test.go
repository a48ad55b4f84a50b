package seen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	loaded  []storage.SeenEntry
	loadErr error
	saveErr error
	saves   [][]storage.SeenEntry
}

func (m *memStore) LoadSeen(context.Context) ([]storage.SeenEntry, error) {
	return m.loaded, m.loadErr
}

func (m *memStore) SaveSeen(_ context.Context, entries []storage.SeenEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, append([]storage.SeenEntry(nil), entries...))
	return m.saveErr
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

// manualTimer captures scheduled flushes so tests fire them explicitly.
type manualTimer struct {
	mu        sync.Mutex
	scheduled []func()
	delays    []time.Duration
}

func (m *manualTimer) afterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, f)
	m.delays = append(m.delays, d)
	idx := len(m.scheduled) - 1
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		stopped := m.scheduled[idx] != nil
		m.scheduled[idx] = nil
		return stopped
	}
}

func (m *manualTimer) fireAll() {
	m.mu.Lock()
	fns := m.scheduled
	m.scheduled = make([]func(), len(fns))
	m.mu.Unlock()
	for _, f := range fns {
		if f != nil {
			f()
		}
	}
}

func (m *manualTimer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delays)
}

func newTestCache(store storage.SeenStore, cfg Config) (*Cache, *manualTimer) {
	c := New(cfg, store, logx.Nop())
	mt := &manualTimer{}
	c.afterFunc = mt.afterFunc
	return c, mt
}

func TestMarkSeenCoalescesFlushes(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	c, mt := newTestCache(st, Config{})

	for _, fp := range []string{"a", "b", "c", "a"} {
		c.MarkSeen(fp)
	}
	if mt.count() != 1 {
		t.Fatalf("expected exactly one scheduled flush, got %d", mt.count())
	}
	if mt.delays[0] != DefaultFlushDelay {
		t.Fatalf("flush delay = %v, want %v", mt.delays[0], DefaultFlushDelay)
	}
	if st.saveCount() != 0 {
		t.Fatalf("flush must not run before the debounce fires")
	}

	mt.fireAll()
	if st.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", st.saveCount())
	}
	if got := len(st.saves[0]); got != 3 {
		t.Fatalf("flush should contain the union of 3 fingerprints, got %d", got)
	}

	// A new mark after the flush schedules a fresh one.
	c.MarkSeen("d")
	if mt.count() != 2 {
		t.Fatalf("expected second flush to be scheduled, got %d", mt.count())
	}
}

func TestHasIsInMemory(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(nil, Config{})
	if c.Has("x") {
		t.Fatalf("empty cache reports x")
	}
	c.MarkSeen("x")
	if !c.Has("x") {
		t.Fatalf("MarkSeen not visible to Has")
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d", c.Len())
	}
}

func TestLoadTreatsFailureAsEmpty(t *testing.T) {
	t.Parallel()

	st := &memStore{loadErr: storage.ErrCorrupt}
	c, _ := newTestCache(st, Config{})
	if n := c.Load(context.Background()); n != 0 {
		t.Fatalf("Load returned %d on corrupt state", n)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty set")
	}
}

func TestLoadRestoresAndRespectsRetention(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := &memStore{loaded: []storage.SeenEntry{
		{Fingerprint: "fresh", SeenAt: now.Add(-time.Hour)},
		{Fingerprint: "old", SeenAt: now.Add(-72 * time.Hour)},
	}}
	c, _ := newTestCache(st, Config{Retention: 48 * time.Hour})
	c.now = func() time.Time { return now }

	if n := c.Load(context.Background()); n != 1 {
		t.Fatalf("expected 1 entry within retention, got %d", n)
	}
	if !c.Has("fresh") || c.Has("old") {
		t.Fatalf("retention not applied on load")
	}
}

func TestFlushFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	st := &memStore{saveErr: errors.New("disk full")}
	c, mt := newTestCache(st, Config{})
	c.MarkSeen("a")
	mt.fireAll()

	s := c.Stats()
	if s.FlushErrors != 1 || s.LastError == "" {
		t.Fatalf("flush error not recorded: %+v", s)
	}

	// Later marks keep working and schedule another flush.
	c.MarkSeen("b")
	if !c.Has("b") || mt.count() != 2 {
		t.Fatalf("MarkSeen blocked after failed flush")
	}
}

func TestFlushCancelsPendingAndCloseStopsScheduling(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	c, mt := newTestCache(st, Config{})
	c.MarkSeen("a")
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st.saveCount() != 1 {
		t.Fatalf("Close should flush once, got %d", st.saveCount())
	}

	mt.fireAll() // the cancelled debounce must not write again
	if st.saveCount() != 1 {
		t.Fatalf("cancelled flush still ran")
	}

	c.MarkSeen("b")
	if mt.count() != 1 {
		t.Fatalf("closed cache scheduled a flush")
	}
	if !c.Has("b") {
		t.Fatalf("closed cache must still record in memory")
	}
}
