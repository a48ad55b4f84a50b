// Package seen is the deduplication cache: an in-memory fingerprint set with
// a debounced, best-effort durable flush.
package seen

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultFlushDelay   = 5 * time.Second
	defaultFlushTimeout = 10 * time.Second
)

type Config struct {
	// FlushDelay is the debounce window between the first MarkSeen and the
	// flush that persists it. Default 5s.
	FlushDelay time.Duration
	// Retention expires fingerprints older than this. Zero keeps them forever.
	Retention time.Duration
	// FlushTimeout bounds a single durable write. Default 10s.
	FlushTimeout time.Duration
}

// Stats is a point-in-time view for status and metrics.
type Stats struct {
	Len         int
	Flushes     uint64
	FlushErrors uint64
	LastFlush   time.Time
	LastError   string
	Pending     bool
}

// Cache answers Has from memory only. MarkSeen updates memory synchronously and
// schedules at most one pending flush; every fingerprint marked before that
// flush runs is included in it.
type Cache struct {
	log   logx.Logger
	store storage.SeenStore
	cfg   Config

	items *gocache.Cache

	// mu serializes writers and guards the flush schedule.
	mu      sync.Mutex
	pending bool
	stop    func() bool
	closed  bool
	stats   Stats

	// flushMu keeps durable writes in order.
	flushMu sync.Mutex

	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool
}

// New creates a cache. store may be nil; the set is then memory-only.
func New(cfg Config, store storage.SeenStore, log logx.Logger) *Cache {
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return &Cache{
		log:   log.With(logx.String("comp", "seen")),
		store: store,
		cfg:   cfg,
		items: newItems(cfg.Retention),
		now:   time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

func newItems(retention time.Duration) *gocache.Cache {
	if retention <= 0 {
		return gocache.New(gocache.NoExpiration, 0)
	}
	return gocache.New(retention, max(retention/4, time.Minute))
}

// Load performs the single startup read. Missing or unreadable state yields an
// empty set; the error is logged and never returned.
func (c *Cache) Load(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	entries, err := c.store.LoadSeen(ctx)
	if err != nil {
		c.log.Warn("seen-set load failed; starting empty", logx.Err(err))
		return 0
	}

	now := c.now()
	n := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		at := e.SeenAt
		if at.IsZero() {
			at = now
		}
		ttl := gocache.NoExpiration
		if c.cfg.Retention > 0 {
			ttl = c.cfg.Retention - now.Sub(at)
			if ttl <= 0 {
				continue
			}
		}
		c.items.Set(e.Fingerprint, at, ttl)
		n++
	}
	c.stats.Len = c.items.ItemCount()
	c.log.Info("seen-set loaded", logx.Int("entries", n), logx.Int("skipped", len(entries)-n))
	return n
}

func (c *Cache) Has(fp string) bool {
	_, ok := c.items.Get(fp)
	return ok
}

// MarkSeen records fp and schedules a flush if none is pending. Marking an
// already-known fingerprint keeps its original first-seen time.
func (c *Cache) MarkSeen(fp string) {
	if fp == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items.Get(fp); !ok {
		c.items.Set(fp, c.now(), gocache.DefaultExpiration)
	}
	if c.pending || c.closed || c.store == nil {
		return
	}
	c.pending = true
	c.stop = c.afterFunc(c.cfg.FlushDelay, c.scheduledFlush)
}

func (c *Cache) Len() int { return c.items.ItemCount() }

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Len = c.items.ItemCount()
	s.Pending = c.pending
	return s
}

func (c *Cache) scheduledFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
	defer cancel()
	_ = c.flush(ctx)
}

// Flush persists the current set now and cancels any pending debounced flush.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.mu.Unlock()
	return c.flush(ctx)
}

// Close flushes once and stops scheduling further flushes. The set remains
// readable.
func (c *Cache) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Cache) flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	// Clearing pending before taking the snapshot lets a MarkSeen racing with
	// this write schedule the next flush.
	c.mu.Lock()
	c.pending = false
	c.stop = nil
	entries := c.snapshotLocked()
	c.mu.Unlock()

	started := time.Now()
	err := c.store.SaveSeen(ctx, entries)

	c.mu.Lock()
	c.stats.Flushes++
	if err != nil {
		c.stats.FlushErrors++
		c.stats.LastError = logx.Truncate(err.Error(), 300)
	} else {
		c.stats.LastFlush = c.now()
		c.stats.LastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("seen-set flush failed", logx.Int("entries", len(entries)), logx.Err(err))
		return err
	}
	c.log.Debug("seen-set flushed", logx.Int("entries", len(entries)), logx.Duration("took", time.Since(started)))
	return nil
}

func (c *Cache) snapshotLocked() []storage.SeenEntry {
	items := c.items.Items()
	out := make([]storage.SeenEntry, 0, len(items))
	for fp, it := range items {
		at, _ := it.Object.(time.Time)
		out = append(out, storage.SeenEntry{Fingerprint: fp, SeenAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeenAt.Equal(out[j].SeenAt) {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].SeenAt.Before(out[j].SeenAt)
	})
	return out
}
