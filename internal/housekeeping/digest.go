package housekeeping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/monitor"
)

// Tally accumulates cycle reports between two digests.
type Tally struct {
	mu     sync.Mutex
	since  time.Time
	cycles int
	sum    monitor.CycleReport
}

func NewTally(now time.Time) *Tally { return &Tally{since: now} }

func (t *Tally) Observe(e eventbus.Event) {
	rep, ok := e.Data.(monitor.CycleReport)
	if e.Type != monitor.EventCycleDone || !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	t.sum.Fetched += rep.Fetched
	t.sum.Dispatched += rep.Dispatched
	t.sum.Duplicate += rep.Duplicate
	t.sum.Stale += rep.Stale
	t.sum.Failed += rep.Failed
	t.sum.Errors += rep.Errors
	t.sum.Dormant += rep.Dormant
}

// Run feeds the tally from bus until ctx is done.
func (t *Tally) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			t.Observe(e)
		}
	}
}

// Take returns the totals since the last Take and resets them.
func (t *Tally) Take(now time.Time) (since time.Time, cycles int, sum monitor.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since, cycles, sum = t.since, t.cycles, t.sum
	t.since, t.cycles, t.sum = now, 0, monitor.CycleReport{}
	return since, cycles, sum
}

// Digest is the content of the periodic owner summary.
type Digest struct {
	Since            time.Time
	Until            time.Time
	Cycles           int
	Totals           monitor.CycleReport
	Targets          map[string]int
	SeenLen          int
	AlertsRaised     uint64
	AlertsSuppressed uint64
	Session          string
}

// Format renders d as plain text.
func (d Digest) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "feedwatch digest %s – %s\n",
		d.Since.Format("2006-01-02 15:04"), d.Until.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "cycles: %d, session: %s\n", d.Cycles, d.Session)
	fmt.Fprintf(&b, "items: %d dispatched, %d failed, %d duplicate, %d stale (of %d fetched)\n",
		d.Totals.Dispatched, d.Totals.Failed, d.Totals.Duplicate, d.Totals.Stale, d.Totals.Fetched)
	fmt.Fprintf(&b, "fetch errors: %d, moved dormant: %d\n", d.Totals.Errors, d.Totals.Dormant)

	tiers := make([]string, 0, len(d.Targets))
	for k := range d.Targets {
		tiers = append(tiers, k)
	}
	sort.Strings(tiers)
	parts := make([]string, 0, len(tiers))
	for _, k := range tiers {
		parts = append(parts, fmt.Sprintf("%s=%d", k, d.Targets[k]))
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	fmt.Fprintf(&b, "targets: %s\n", strings.Join(parts, " "))
	fmt.Fprintf(&b, "seen-set: %d, alerts: %d raised, %d suppressed", d.SeenLen, d.AlertsRaised, d.AlertsSuppressed)
	return b.String()
}
