// Package targets is the registry of monitored targets: the active poll set
// and the dormant collection, persisted through storage.
package targets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedwatch/internal/lifecycle"
	"feedwatch/internal/model"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

var (
	ErrNotFound = errors.New("targets: not found")
	ErrExists   = errors.New("targets: url already registered")
	ErrBadURL   = errors.New("targets: invalid url")
)

// Auditor records registry changes. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Registry is safe for concurrent use. Reads return copies.
type Registry struct {
	log   logx.Logger
	store storage.TargetStore
	audit Auditor

	mu      sync.RWMutex
	targets map[string]*model.Target

	now   func() time.Time
	newID func() string
}

// New creates a registry. store and audit may be nil (memory only).
func New(store storage.TargetStore, audit Auditor, log logx.Logger) *Registry {
	return &Registry{
		log:     log.With(logx.String("comp", "targets")),
		store:   store,
		audit:   audit,
		targets: map[string]*model.Target{},
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Load replaces the in-memory registry with the persisted targets.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ts, err := r.store.LoadTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	m := make(map[string]*model.Target, len(ts))
	for i := range ts {
		t := ts[i]
		if t.Tier == "" {
			t.Tier = model.TierHot
		}
		m[t.ID] = &t
	}
	r.mu.Lock()
	r.targets = m
	r.mu.Unlock()
	return nil
}

func (r *Registry) list(filter func(*model.Target) bool) []model.Target {
	r.mu.RLock()
	out := make([]model.Target, 0, len(r.targets))
	for _, t := range r.targets {
		if filter == nil || filter(t) {
			out = append(out, *t)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Active is the poll set, oldest first.
func (r *Registry) Active() []model.Target {
	return r.list(func(t *model.Target) bool { return t.Active })
}

func (r *Registry) Dormant() []model.Target {
	return r.list(func(t *model.Target) bool { return !t.Active })
}

func (r *Registry) All() []model.Target { return r.list(nil) }

func (r *Registry) Get(id string) (model.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	if !ok {
		return model.Target{}, false
	}
	return *t, true
}

// CountByTier counts active targets per tier plus dormant ones under "dormant".
func (r *Registry) CountByTier() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, t := range r.targets {
		if !t.Active {
			out["dormant"]++
			continue
		}
		out[string(t.Tier)]++
	}
	return out
}

// Add registers a new active target. Adding a URL that is already registered
// returns the existing target with ErrExists.
func (r *Registry) Add(ctx context.Context, rawURL, label, actor string) (model.Target, error) {
	u, err := normalizeURL(rawURL)
	if err != nil {
		return model.Target{}, err
	}

	r.mu.Lock()
	for _, t := range r.targets {
		if t.URL == u {
			cp := *t
			r.mu.Unlock()
			return cp, ErrExists
		}
	}
	t := &model.Target{
		ID:        r.newID(),
		URL:       u,
		Label:     strings.TrimSpace(label),
		Active:    true,
		Tier:      model.TierHot,
		CreatedAt: r.now(),
	}
	r.targets[t.ID] = t
	cp := *t
	r.mu.Unlock()

	if err := r.persist(ctx, cp); err != nil {
		r.mu.Lock()
		delete(r.targets, cp.ID)
		r.mu.Unlock()
		return model.Target{}, err
	}
	r.record(ctx, actor, "target.add", cp.ID, cp.URL)
	r.log.Info("target added", logx.String("id", cp.ID), logx.String("url", cp.URL))
	return cp, nil
}

// Remove deletes a target outright. Only the admin surface does this; the
// poll loop only deactivates.
func (r *Registry) Remove(ctx context.Context, id, actor string) error {
	r.mu.Lock()
	t, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.targets, id)
	cp := *t
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteTarget(ctx, id); err != nil {
			r.mu.Lock()
			r.targets[id] = &cp
			r.mu.Unlock()
			return fmt.Errorf("delete target: %w", err)
		}
	}
	r.record(ctx, actor, "target.remove", id, cp.URL)
	return nil
}

// Reactivate returns a dormant target to the poll set. Reactivation counts as
// activity so the next sweep does not move it straight back. Seen
// fingerprints are untouched.
func (r *Registry) Reactivate(ctx context.Context, id, actor string) (model.Target, error) {
	var cp model.Target
	err := r.mutate(ctx, id, func(t *model.Target) bool {
		if t.Active {
			return false
		}
		t.Active = true
		t.Tier = model.TierHot
		t.LastActivityAt = r.now()
		t.DormantAt = time.Time{}
		t.DormantReason = ""
		return true
	}, &cp)
	if err != nil {
		return model.Target{}, err
	}
	r.record(ctx, actor, "target.reactivate", id, "")
	return cp, nil
}

// RecordActivity adds n newly discovered items observed at `at`.
func (r *Registry) RecordActivity(ctx context.Context, id string, n int, at time.Time) error {
	if n <= 0 {
		return nil
	}
	return r.mutate(ctx, id, func(t *model.Target) bool {
		t.ItemCount += int64(n)
		if at.After(t.LastActivityAt) {
			t.LastActivityAt = at
		}
		return true
	}, nil)
}

// SetTier stores a new tier; unchanged tiers are not written.
func (r *Registry) SetTier(ctx context.Context, id string, tier model.Tier) error {
	return r.mutate(ctx, id, func(t *model.Target) bool {
		if t.Tier == tier {
			return false
		}
		t.Tier = tier
		return true
	}, nil)
}

// ApplySweep moves relocated targets into the dormant collection.
func (r *Registry) ApplySweep(ctx context.Context, moved []lifecycle.Relocated) error {
	var errs []error
	for _, m := range moved {
		err := r.mutate(ctx, m.Target.ID, func(t *model.Target) bool {
			t.Active = false
			t.Tier = model.TierDead
			t.DormantAt = m.At
			t.DormantReason = m.Reason
			return true
		}, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.record(ctx, "sweeper", "target.dormant", m.Target.ID, m.Reason)
		r.log.Info("target moved to dormant",
			logx.String("id", m.Target.ID),
			logx.String("label", m.Target.Name()),
			logx.Float64("days", m.Days),
		)
	}
	return errors.Join(errs...)
}

// mutate applies fn under the lock and persists when fn reports a change. On
// a persistence failure the in-memory change is rolled back.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*model.Target) bool, out *model.Target) error {
	r.mu.Lock()
	t, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	before := *t
	changed := fn(t)
	after := *t
	r.mu.Unlock()

	if out != nil {
		*out = after
	}
	if !changed {
		return nil
	}
	if err := r.persist(ctx, after); err != nil {
		r.mu.Lock()
		if cur, ok := r.targets[id]; ok && *cur == after {
			*cur = before
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, t model.Target) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveTarget(ctx, t); err != nil {
		return fmt.Errorf("save target %s: %w", t.ID, err)
	}
	return nil
}

func (r *Registry) record(ctx context.Context, actor, action, id, detail string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.AppendAudit(ctx, storage.AuditEntry{
		At:       r.now(),
		Actor:    actor,
		Action:   action,
		TargetID: id,
		Detail:   detail,
	}); err != nil {
		r.log.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func normalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	u.Fragment = ""
	return u.String(), nil
}
