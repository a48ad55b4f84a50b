package session

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "feedwatch/pkg/logx"
)

func at(h, m int) time.Time {
	return time.Date(2025, 6, 1, h, m, 0, 0, time.UTC)
}

var minRand = RandomFunc(func(min, _ time.Duration) time.Duration { return min })

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func newTestScheduler(cfg Config) *Scheduler {
	return New(cfg, minRand, logx.Nop(), nil)
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		now    time.Time
		warmup bool
		want   State
	}{
		{"night", at(23, 0), true, StateAsleep},
		{"early morning", at(6, 59), true, StateAsleep},
		{"day with warmup", at(7, 0), true, StateWarmingUp},
		{"day without warmup", at(12, 0), false, StateActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.WarmupEnabled = tc.warmup
			d := newTestScheduler(cfg).Init(tc.now)
			if d.State != tc.want {
				t.Fatalf("state = %s, want %s", d.State, tc.want)
			}
			if (tc.want != StateAsleep) != d.Poll {
				t.Fatalf("poll = %v for state %s", d.Poll, d.State)
			}
		})
	}
}

func TestCatchUpForcesWarmUp(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WarmupEnabled = false
	s := newTestScheduler(cfg)
	start := at(23, 0)
	if d := s.Init(start); d.State != StateAsleep {
		t.Fatalf("initial = %s", d.State)
	}

	d := s.Step(start.Add(9 * time.Hour))
	if d.State != StateWarmingUp {
		t.Fatalf("after 9h asleep state = %s, want %s", d.State, StateWarmingUp)
	}
	if len(d.Transitions) != 1 || d.Transitions[0].Reason != "catch-up" {
		t.Fatalf("transitions = %+v", d.Transitions)
	}
	if !d.Poll {
		t.Fatalf("expected an immediate poll on wake")
	}
}

func TestCatchUpInsideNightWindow(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(testConfig())
	start := at(22, 0)
	s.Init(start)

	d := s.Step(at(5, 59).Add(24 * time.Hour))
	if d.State != StateAsleep || d.Poll {
		t.Fatalf("05:59 after 7h59m: state=%s poll=%v", d.State, d.Poll)
	}
	if want := start.Add(8 * time.Hour); !d.Wake.Equal(want) {
		t.Fatalf("wake = %s, want catch-up at %s", d.Wake, want)
	}

	d = s.Step(start.Add(8 * time.Hour))
	if d.State != StateWarmingUp {
		t.Fatalf("06:00 after 8h: state = %s, want %s", d.State, StateWarmingUp)
	}
}

func TestNightEndWakes(t *testing.T) {
	t.Parallel()

	for _, warmup := range []bool{true, false} {
		cfg := testConfig()
		cfg.CatchUp = 12 * time.Hour
		cfg.WarmupEnabled = warmup
		s := newTestScheduler(cfg)
		s.Init(at(23, 0))

		d := s.Step(at(6, 59).Add(24 * time.Hour))
		if d.State != StateAsleep {
			t.Fatalf("warmup=%v: 06:59 state = %s", warmup, d.State)
		}
		d = s.Step(at(7, 0).Add(24 * time.Hour))
		want := StateActive
		if warmup {
			want = StateWarmingUp
		}
		if d.State != want || !d.Poll {
			t.Fatalf("warmup=%v: 07:00 state=%s poll=%v, want %s", warmup, d.State, d.Poll, want)
		}
	}
}

func TestSessionCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	s := newTestScheduler(cfg)

	d := s.Init(at(10, 0))
	if d.State != StateWarmingUp || !d.Poll {
		t.Fatalf("init = %+v", d)
	}
	// Warm-up polls at twice the interval.
	if want := at(10, 5); !d.Wake.Equal(want) {
		t.Fatalf("warm-up wake = %s, want %s", d.Wake, want)
	}

	d = s.Step(at(10, 5))
	if d.State != StateActive || d.Poll {
		t.Fatalf("10:05 = %+v", d)
	}
	if want := at(10, 6); !d.Wake.Equal(want) {
		t.Fatalf("pending warm-up poll lost: wake = %s, want %s", d.Wake, want)
	}

	d = s.Step(at(10, 6))
	if !d.Poll || !d.Wake.Equal(at(10, 9)) {
		t.Fatalf("10:06 = %+v", d)
	}

	d = s.Step(at(10, 45))
	if d.State != StateCooldown || d.Poll {
		t.Fatalf("10:45 = %+v", d)
	}
	if !d.Wake.Equal(at(10, 47)) {
		t.Fatalf("cooldown wake = %s", d.Wake)
	}

	d = s.Step(at(10, 47))
	if d.State != StateActive || !d.Poll {
		t.Fatalf("10:47 = %+v", d)
	}
}

func TestCooldownIntoNight(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WarmupEnabled = false
	cfg.Length = Range{70 * time.Minute, 80 * time.Minute}
	s := newTestScheduler(cfg)

	s.Init(at(21, 0))
	if d := s.Step(at(22, 10)); d.State != StateCooldown {
		t.Fatalf("22:10 state = %s", d.State)
	}
	d := s.Step(at(22, 12))
	if d.State != StateAsleep || d.Poll {
		t.Fatalf("22:12 = %+v", d)
	}
	snap := s.Snapshot()
	if snap.State != StateAsleep || !snap.Since.Equal(at(22, 12)) || snap.Transitions != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestNightWindowWithoutWrap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NightStart, cfg.NightEnd = 1, 5
	for h, want := range map[int]bool{0: false, 1: true, 4: true, 5: false, 23: false} {
		if got := cfg.inNight(at(h, 30)); got != want {
			t.Fatalf("hour %d: inNight = %v, want %v", h, got, want)
		}
	}
	cfg.NightStart, cfg.NightEnd = 3, 3
	if cfg.inNight(at(3, 0)) {
		t.Fatalf("empty window reported night")
	}
}

func TestInvalidBoundsReplacedLoudly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := testConfig()
	cfg.WarmupEnabled = false
	cfg.NightEnabled = false
	cfg.Length = Range{Min: 30 * time.Minute, Max: 10 * time.Minute}
	cfg.PollInterval = 0
	maxRand := RandomFunc(func(_, max time.Duration) time.Duration { return max })
	s := New(cfg, maxRand, logx.NewWriter(&buf, "debug"), nil)

	d := s.Init(at(12, 0))
	if d.State != StateActive {
		t.Fatalf("state = %s", d.State)
	}
	if want := at(12, 0).Add(DefaultLengthMax); !s.Snapshot().Until.Equal(want) {
		t.Fatalf("session deadline = %s, want %s", s.Snapshot().Until, want)
	}
	if want := at(12, 0).Add(DefaultPollInterval); !d.Wake.Equal(want) {
		t.Fatalf("wake = %s, want %s", d.Wake, want)
	}
	out := buf.String()
	if !strings.Contains(out, "invalid duration bounds") || !strings.Contains(out, "invalid poll interval") {
		t.Fatalf("expected loud logs, got %s", out)
	}
}

func TestOutOfRangeRandomIsClamped(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WarmupEnabled = false
	cfg.NightEnabled = false
	wild := RandomFunc(func(_, _ time.Duration) time.Duration { return -time.Hour })
	s := New(cfg, wild, logx.Nop(), nil)
	s.Init(at(12, 0))
	if got := s.Snapshot().Until.Sub(at(12, 0)); got != DefaultLengthMin {
		t.Fatalf("drawn length = %s, want %s", got, DefaultLengthMin)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NightEnabled = false
	cfg.WarmupEnabled = false
	cfg.PollInterval = 10 * time.Millisecond
	s := newTestScheduler(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var polls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) {
			if polls.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if n := polls.Load(); n != 3 {
		t.Fatalf("polls = %d, want 3", n)
	}
}
