package housekeeping

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/monitor"
	logx "feedwatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{"0 9 * * *", "0 9 * * *", false},
		{"@daily", "@daily", false},
		{"@every 10m", "@every 10m", false},
		{"10m", "@every 10m0s", false},
		{"00:50", "@every 50m0s", false},
		{"every:1h", "@every 1h0m0s", false},
		{"cron:*/5 * * * *", "*/5 * * * *", false},
		{"", "", true},
		{"-5m", "", true},
		{"01:75", "", true},
		{"soon", "", true},
	}
	for _, tc := range cases {
		p, err := ParseSchedule(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got := p.CronSpec(); got != tc.want {
			t.Fatalf("%q: spec = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSetRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	err := s.Set(Job{Name: "x", Schedule: "61 * * * *", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected invalid cron to be rejected")
	}
	if err := s.Set(Job{Name: "y", Schedule: Off, Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("off: %v", err)
	}
	if len(s.Entries()) != 0 {
		t.Fatalf("entries = %+v", s.Entries())
	}
}

func TestRunNowRecordsLastError(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, logx.Nop())
	calls := 0
	job := Job{Name: "flush", Schedule: "@every 1h", Timeout: time.Second, Run: func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job ctx has no deadline")
		}
		return errors.New("disk full")
	}}
	if err := s.Set(job); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.RunNow("flush"); err == nil {
		t.Fatalf("expected job error")
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].LastErr != "disk full" || entries[0].Next.IsZero() {
		t.Fatalf("entries = %+v", entries)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestTallyAndDigest(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	tl := NewTally(t0)
	tl.Observe(eventbus.Event{Type: monitor.EventCycleDone, Data: monitor.CycleReport{Fetched: 10, Dispatched: 3, Duplicate: 7}})
	tl.Observe(eventbus.Event{Type: monitor.EventCycleDone, Data: monitor.CycleReport{Fetched: 5, Dispatched: 1, Errors: 1}})
	tl.Observe(eventbus.Event{Type: "other", Data: monitor.CycleReport{Dispatched: 100}})

	since, cycles, sum := tl.Take(t0.Add(24 * time.Hour))
	if !since.Equal(t0) || cycles != 2 || sum.Dispatched != 4 || sum.Fetched != 15 || sum.Errors != 1 {
		t.Fatalf("since=%s cycles=%d sum=%+v", since, cycles, sum)
	}
	if _, c, _ := tl.Take(t0.Add(48 * time.Hour)); c != 0 {
		t.Fatalf("tally not reset")
	}

	text := Digest{
		Since: since, Until: t0.Add(24 * time.Hour), Cycles: cycles, Totals: sum,
		Targets: map[string]int{"hot": 2, "dormant": 1}, SeenLen: 9, Session: "ACTIVE_SESSION",
	}.Format()
	for _, want := range []string{"cycles: 2", "4 dispatched", "targets: dormant=1 hot=2", "seen-set: 9"} {
		if !strings.Contains(text, want) {
			t.Fatalf("digest missing %q:\n%s", want, text)
		}
	}
}
