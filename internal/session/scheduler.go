// Package session decides when polling happens: a four-state loop with a
// night window, catch-up wake, optional warm-up ramp, randomized session
// lengths and a short cooldown between sessions.
package session

import (
	"context"
	"sync"
	"time"

	"feedwatch/internal/eventbus"
	logx "feedwatch/pkg/logx"
)

type State string

const (
	StateAsleep    State = "ASLEEP"
	StateWarmingUp State = "WARMING_UP"
	StateActive    State = "ACTIVE_SESSION"
	StateCooldown  State = "COOLDOWN"
)

// EventState is published on every transition with a Transition payload.
const EventState = "session.state"

// minWait keeps the loop from spinning on a deadline that is already due.
const minWait = 100 * time.Millisecond

// Transition records one state change.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// Decision is the outcome of one Step.
type Decision struct {
	State State
	// Poll asks the caller to run one poll cycle now.
	Poll bool
	// Wake is when Step should be called next if no poll was requested.
	Wake time.Time
	// Transitions taken during this step, in order.
	Transitions []Transition
}

// Snapshot is a read-only view of the scheduler for status output.
type Snapshot struct {
	State       State     `json:"state"`
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until,omitzero"`
	NextPoll    time.Time `json:"next_poll,omitzero"`
	Polls       uint64    `json:"polls"`
	Transitions uint64    `json:"transitions"`
}

// PollFunc runs one poll cycle.
type PollFunc func(ctx context.Context)

type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus
	rnd Random

	mu       sync.Mutex
	cfg      Config
	state    State
	since    time.Time
	deadline time.Time
	nextPoll time.Time
	polls    uint64
	moves    uint64

	now func() time.Time
}

// New builds a scheduler. rnd and bus may be nil.
func New(cfg Config, rnd Random, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if rnd == nil {
		rnd = NewRandom()
	}
	log = log.With(logx.String("comp", "session"))
	return &Scheduler{
		log: log,
		bus: bus,
		rnd: rnd,
		cfg: sanitize(cfg, log),
		now: time.Now,
	}
}

// Apply installs new bounds. Durations already drawn for the current state
// are kept; the new bounds apply from the next state entry.
func (s *Scheduler) Apply(cfg Config) {
	cfg = sanitize(cfg, s.log)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Since:       s.since,
		Until:       s.deadline,
		NextPoll:    s.nextPoll,
		Polls:       s.polls,
		Transitions: s.moves,
	}
}

// Init computes the initial state from the wall clock: asleep inside the
// night window, otherwise warming up (or active when warm-up is off).
func (s *Scheduler) Init(now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d Decision
	s.initLocked(now, &d)
	s.decideLocked(now, &d)
	return d
}

func (s *Scheduler) initLocked(now time.Time, d *Decision) {
	switch {
	case s.cfg.inNight(now):
		s.enterLocked(now, StateAsleep, "start in night window", d)
	case s.cfg.WarmupEnabled:
		s.enterLocked(now, StateWarmingUp, "start", d)
	default:
		s.enterLocked(now, StateActive, "start", d)
	}
}

// Step advances the state machine to now. It only reads now and the random
// source, so tests drive it with synthetic times.
func (s *Scheduler) Step(now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Decision
	if s.state == "" {
		s.initLocked(now, &d)
	}

	// Each pass handles one expiry; a stalled loop (suspend, long poll)
	// catches up through several states in a single call.
	for i := 0; i < 8; i++ {
		if !s.advanceLocked(now, &d) {
			break
		}
	}
	s.decideLocked(now, &d)
	return d
}

// advanceLocked takes at most one transition and reports whether it did.
func (s *Scheduler) advanceLocked(now time.Time, d *Decision) bool {
	switch s.state {
	case StateAsleep:
		// Catch-up is checked first: a wake forced by a long sleep always
		// ramps up, even with warm-up disabled.
		if now.Sub(s.since) >= s.cfg.CatchUp {
			s.enterLocked(now, StateWarmingUp, "catch-up", d)
			return true
		}
		if !s.cfg.inNight(now) {
			if s.cfg.WarmupEnabled {
				s.enterLocked(now, StateWarmingUp, "night over", d)
			} else {
				s.enterLocked(now, StateActive, "night over", d)
			}
			return true
		}
	case StateWarmingUp:
		if !now.Before(s.deadline) {
			s.enterLocked(now, StateActive, "warm-up done", d)
			return true
		}
	case StateActive:
		if !now.Before(s.deadline) {
			s.enterLocked(now, StateCooldown, "session over", d)
			return true
		}
	case StateCooldown:
		if !now.Before(s.deadline) {
			if s.cfg.inNight(now) {
				s.enterLocked(now, StateAsleep, "night window", d)
			} else {
				s.enterLocked(now, StateActive, "cooldown over", d)
			}
			return true
		}
	default:
		s.log.Error("scheduler in unknown state; restarting from clock", logx.String("state", string(s.state)))
		s.initLocked(now, d)
		return true
	}
	return false
}

func (s *Scheduler) enterLocked(now time.Time, to State, reason string, d *Decision) {
	from := s.state
	s.state = to
	s.since = now
	s.deadline = time.Time{}

	cfg := s.cfg
	switch to {
	case StateAsleep:
		s.nextPoll = time.Time{}
	case StateWarmingUp:
		s.deadline = now.Add(s.draw(cfg.Warmup))
		s.nextPoll = now
	case StateActive:
		s.deadline = now.Add(s.draw(cfg.Length))
		// Coming out of warm-up the pending poll is kept, pulled in to one
		// active interval at most.
		if from == StateWarmingUp && !s.nextPoll.IsZero() {
			if lim := now.Add(cfg.PollInterval); s.nextPoll.After(lim) {
				s.nextPoll = lim
			}
		} else {
			s.nextPoll = now
		}
	case StateCooldown:
		s.deadline = now.Add(s.draw(cfg.Cooldown))
		s.nextPoll = time.Time{}
	}

	s.moves++
	tr := Transition{From: from, To: to, At: now, Reason: reason}
	d.Transitions = append(d.Transitions, tr)
	eventbus.Emit(s.bus, EventState, tr)

	fields := []logx.Field{
		logx.String("from", string(from)),
		logx.String("to", string(to)),
		logx.String("reason", reason),
	}
	if !s.deadline.IsZero() {
		fields = append(fields, logx.Duration("for", s.deadline.Sub(now)))
	}
	s.log.Info("session state changed", fields...)
}

// draw picks a duration in r. A provider returning a value outside r is
// clamped.
func (s *Scheduler) draw(r Range) time.Duration {
	v := s.rnd.Between(r.Min, r.Max)
	if v < r.Min || v > r.Max {
		s.log.Warn("random duration out of bounds; clamped",
			logx.Duration("got", v), logx.Duration("min", r.Min), logx.Duration("max", r.Max))
		v = min(max(v, r.Min), r.Max)
	}
	return v
}

// decideLocked fills Poll and Wake for the current state.
func (s *Scheduler) decideLocked(now time.Time, d *Decision) {
	d.State = s.state
	cfg := s.cfg

	switch s.state {
	case StateAsleep:
		wake := s.since.Add(cfg.CatchUp)
		if cfg.NightEnabled {
			wake = earliest(wake, cfg.nightEndAfter(now))
		}
		d.Wake = earliest(wake, now.Add(cfg.MaxSleepWait))
		return
	case StateCooldown:
		d.Wake = s.deadline
		return
	}

	interval := cfg.PollInterval
	if s.state == StateWarmingUp {
		interval = time.Duration(float64(interval) * cfg.WarmupFactor)
	}
	if !now.Before(s.nextPoll) {
		d.Poll = true
		s.polls++
		s.nextPoll = now.Add(interval)
	}
	d.Wake = earliest(s.deadline, s.nextPoll)
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

// Run drives the loop until ctx is done. poll is called synchronously; the
// caller bounds it and decides how much of an in-flight cycle survives
// cancellation.
func (s *Scheduler) Run(ctx context.Context, poll PollFunc) error {
	d := s.Init(s.now())
	for {
		if d.Poll {
			if ctx.Err() != nil {
				return nil
			}
			poll(ctx)
		} else {
			wait := max(d.Wake.Sub(s.now()), minWait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				s.log.Info("session loop stopped", logx.String("state", string(d.State)))
				return nil
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		d = s.Step(s.now())
	}
}
