// Package monitor runs one poll cycle: sweep dormant targets, fetch each
// active target, filter items by age and seen-set, and dispatch the rest.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/agefilter"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/lifecycle"
	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultFetchTimeout = 45 * time.Second
	DefaultStepTimeout  = 2 * time.Minute

	EventCycleDone      = "cycle.done"
	EventItemDispatched = "item.dispatched"
	EventItemFailed     = "item.failed"
	EventTargetDormant  = "target.dormant"
)

// Scraper returns the items currently visible on a target.
type Scraper interface {
	FetchItems(ctx context.Context, t model.Target) ([]model.Item, error)
}

// SeenSet is the dedup cache.
type SeenSet interface {
	Has(fp string) bool
	MarkSeen(fp string)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg dispatch.Message) []dispatch.Result
}

type Alerter interface {
	MaybeRaise(ctx context.Context, title, message string)
}

// Registry is the subset of the target registry a cycle mutates.
type Registry interface {
	Active() []model.Target
	RecordActivity(ctx context.Context, id string, n int, at time.Time) error
	SetTier(ctx context.Context, id string, tier model.Tier) error
	ApplySweep(ctx context.Context, moved []lifecycle.Relocated) error
}

type Config struct {
	MaxAgeMinutes   int
	KeepUnparseable bool
	FetchTimeout    time.Duration
	// StepTimeout bounds the work on one target. It keeps running after the
	// cycle context is cancelled so an in-flight target finishes cleanly.
	StepTimeout       time.Duration
	DormantAfterDays  int
	FingerprintFields []string
}

// CycleReport summarizes one pass over the active targets.
type CycleReport struct {
	Started    time.Time     `json:"started"`
	Took       time.Duration `json:"took"`
	Targets    int           `json:"targets"`
	Fetched    int           `json:"fetched"`
	Stale      int           `json:"stale"`
	Unparsed   int           `json:"unparsed"` // kept or dropped per policy
	Duplicate  int           `json:"duplicate"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Errors     int           `json:"errors"`
	Dormant    int           `json:"dormant"`
}

// ItemEvent is published for every dispatch decision.
type ItemEvent struct {
	TargetID    string
	Fingerprint string
	Results     []dispatch.Result
}

// Deps are the collaborators of a Monitor. Bus is optional.
type Deps struct {
	Scraper    Scraper
	Seen       SeenSet
	Dispatcher Dispatcher
	Alerts     Alerter
	Registry   Registry
	Bus        eventbus.Bus
	Log        logx.Logger
}

type Monitor struct {
	d   Deps
	log logx.Logger

	mu  sync.RWMutex
	cfg Config

	lastMu sync.RWMutex
	last   CycleReport

	now func() time.Time
}

func New(cfg Config, d Deps) *Monitor {
	m := &Monitor{d: d, log: d.Log.With(logx.String("comp", "monitor")), now: time.Now}
	m.Apply(cfg)
	return m
}

// Apply swaps the filter and fingerprint settings for subsequent cycles.
func (m *Monitor) Apply(cfg Config) {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.DormantAfterDays <= 0 {
		cfg.DormantAfterDays = lifecycle.DefaultDormantAfterDays
	}
	cfg.FingerprintFields = append([]string(nil), cfg.FingerprintFields...)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LastReport returns the most recent completed cycle.
func (m *Monitor) LastReport() CycleReport {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

// RunCycle sweeps dormant targets then polls every active target in turn.
// Targets are never polled concurrently. A cancelled ctx stops the cycle
// between targets; the target in progress runs to completion or StepTimeout.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	cfg := m.config()
	rep := CycleReport{Started: m.now()}

	rep.Dormant = m.sweep(ctx, cfg)

	for _, t := range m.d.Registry.Active() {
		if ctx.Err() != nil {
			break
		}
		rep.Targets++
		m.pollDetached(ctx, cfg, t, &rep)
	}

	rep.Took = m.now().Sub(rep.Started)
	m.lastMu.Lock()
	m.last = rep
	m.lastMu.Unlock()

	eventbus.Emit(m.d.Bus, EventCycleDone, rep)
	m.log.Info("poll cycle done",
		logx.Int("targets", rep.Targets),
		logx.Int("fetched", rep.Fetched),
		logx.Int("dispatched", rep.Dispatched),
		logx.Int("duplicate", rep.Duplicate),
		logx.Int("stale", rep.Stale),
		logx.Int("failed", rep.Failed),
		logx.Int("errors", rep.Errors),
		logx.Duration("took", rep.Took),
	)
	return rep
}

// PollTarget runs the pipeline for a single target.
func (m *Monitor) PollTarget(ctx context.Context, t model.Target) CycleReport {
	rep := CycleReport{Started: m.now(), Targets: 1}
	m.pollDetached(ctx, m.config(), t, &rep)
	rep.Took = m.now().Sub(rep.Started)
	return rep
}

func (m *Monitor) sweep(ctx context.Context, cfg Config) int {
	tr := lifecycle.Tracker{ThresholdDays: cfg.DormantAfterDays, Now: m.now}
	active := m.d.Registry.Active()
	for _, t := range active {
		if tier := tr.Classify(t); tier != t.Tier && tier != model.TierDead {
			if err := m.d.Registry.SetTier(ctx, t.ID, tier); err != nil {
				m.log.Warn("tier update failed", logx.String("target", t.ID), logx.Err(err))
			}
		}
	}
	moved := tr.SweepDormant(active)
	if len(moved) == 0 {
		return 0
	}
	if err := m.d.Registry.ApplySweep(ctx, moved); err != nil {
		m.log.Warn("dormant sweep incomplete", logx.Err(err))
	}
	for _, r := range moved {
		eventbus.Emit(m.d.Bus, EventTargetDormant, r)
	}
	return len(moved)
}

func (m *Monitor) pollDetached(ctx context.Context, cfg Config, t model.Target, rep *CycleReport) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StepTimeout)
	defer cancel()
	m.poll(sctx, cfg, t, rep)
}

func (m *Monitor) poll(ctx context.Context, cfg Config, t model.Target, rep *CycleReport) {
	log := m.log.With(logx.String("target", t.ID), logx.String("label", t.Name()))

	fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	items, err := m.d.Scraper.FetchItems(fctx, t)
	cancel()
	if err != nil {
		rep.Errors++
		log.Warn("fetch failed", logx.ErrText(err, 300), logx.Local())
		m.d.Alerts.MaybeRaise(ctx, "Fetch failed", fmt.Sprintf("%s: %v", t.Name(), err))
		return
	}
	rep.Fetched += len(items)

	age := agefilter.Filter{KeepUnparseable: cfg.KeepUnparseable, Now: m.now}
	inCycle := make(map[string]struct{}, len(items))
	delivered := 0

	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		if it.TargetID == "" {
			it.TargetID = t.ID
		}
		fresh, perr := age.Check(it.AgeText, cfg.MaxAgeMinutes)
		if errors.Is(perr, agefilter.ErrUnparseable) {
			rep.Unparsed++
		}
		if !fresh {
			if perr == nil {
				rep.Stale++
			}
			continue
		}

		fp := Fingerprint(it, cfg.FingerprintFields)
		if _, dup := inCycle[fp]; dup || m.d.Seen.Has(fp) {
			rep.Duplicate++
			continue
		}
		inCycle[fp] = struct{}{}

		results := m.d.Dispatcher.Dispatch(ctx, Render(t, it))
		eventbus.Emit(m.d.Bus, EventItemDispatched, ItemEvent{TargetID: t.ID, Fingerprint: fp, Results: results})

		if anyOK(results) {
			m.d.Seen.MarkSeen(fp)
			rep.Dispatched++
			delivered++
			continue
		}
		rep.Failed++
		eventbus.Emit(m.d.Bus, EventItemFailed, ItemEvent{TargetID: t.ID, Fingerprint: fp, Results: results})
		if len(results) == 0 {
			log.Warn("no deliverable destination; item kept for retry", logx.String("fp", fp), logx.Local())
			m.d.Alerts.MaybeRaise(ctx, "No deliverable destination", "every destination is disabled or misconfigured")
			continue
		}
		log.Warn("dispatch failed on every destination; item kept for retry", logx.String("fp", fp), logx.Local())
		m.d.Alerts.MaybeRaise(ctx, "Dispatch failed", describeFailures(results))
	}

	if delivered > 0 {
		if err := m.d.Registry.RecordActivity(ctx, t.ID, delivered, m.now()); err != nil {
			log.Warn("record activity failed", logx.Err(err))
		}
	}
}

func anyOK(rs []dispatch.Result) bool {
	for _, r := range rs {
		if r.OK {
			return true
		}
	}
	return false
}

func describeFailures(rs []dispatch.Result) string {
	var b strings.Builder
	for i, r := range rs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Destination)
		b.WriteString(": ")
		if r.Err != nil {
			b.WriteString(r.Err.Error())
		} else {
			b.WriteString("failed")
		}
	}
	return b.String()
}
