package agefilter

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"just now", 0},
		{"Now", 0},
		{"yesterday", 24 * time.Hour},
		{"30 seconds ago", 30 * time.Second},
		{"1 minute ago", time.Minute},
		{"45 mins ago", 45 * time.Minute},
		{"an hour ago", time.Hour},
		{"a day ago", 24 * time.Hour},
		{"2 hrs ago", 2 * time.Hour},
		{"3 weeks ago", 21 * 24 * time.Hour},
		{"5m", 5 * time.Minute},
		{"12h", 12 * time.Hour},
		{"2d", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"  10 MINUTES AGO. ", 10 * time.Minute},
		{"-5 minutes ago", 0},
		{"99999999999999999999999 years ago", 0},
		{"150 years ago", 150 * 365 * 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseUnparseable(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "recently", "5 parsecs ago", "12 March", "ago"} {
		if _, err := Parse(in); !errors.Is(err, ErrUnparseable) {
			t.Fatalf("Parse(%q) err = %v, want ErrUnparseable", in, err)
		}
	}
}

func TestIsFreshBoundaryInclusive(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := Filter{Now: func() time.Time { return now }}

	if !f.IsFresh("30 minutes ago", 30) {
		t.Fatalf("exactly max age must be fresh")
	}
	if f.IsFresh("31 minutes ago", 30) {
		t.Fatalf("one minute beyond max age must be stale")
	}
	if !f.IsFresh("just now", 1) {
		t.Fatalf("just now must be fresh")
	}
	if f.IsFresh("yesterday", 60) {
		t.Fatalf("yesterday must be stale for a 60 minute window")
	}
}

func TestUnparseablePolicy(t *testing.T) {
	t.Parallel()

	drop := Filter{}
	keep := Filter{KeepUnparseable: true}
	for _, raw := range []string{"", "sometime", "Edited"} {
		if drop.IsFresh(raw, 60) {
			t.Fatalf("default policy must drop %q", raw)
		}
		if !keep.IsFresh(raw, 60) {
			t.Fatalf("keep policy must report %q", raw)
		}
		if _, err := drop.Check(raw, 60); !errors.Is(err, ErrUnparseable) {
			t.Fatalf("Check(%q) should expose ErrUnparseable", raw)
		}
	}
}

func TestDisabledWindow(t *testing.T) {
	t.Parallel()

	f := Filter{}
	if !f.IsFresh("3 weeks ago", 0) {
		t.Fatalf("maxAgeMinutes <= 0 must accept any parsed age")
	}
	if f.IsFresh("garbage", 0) {
		t.Fatalf("unparseable text must still be dropped with the window disabled")
	}
	if !(Filter{KeepUnparseable: true}).IsFresh("garbage", 0) {
		t.Fatalf("keep policy must report unparseable text with the window disabled")
	}
}

func TestVeryOldAgesAreStale(t *testing.T) {
	t.Parallel()

	f := Filter{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	if f.IsFresh("150 years ago", 60) {
		t.Fatalf("a representable age beyond the window must be stale")
	}
	if !f.IsFresh("99999999999999999999999 years ago", 60) {
		t.Fatalf("an overflowing age clamps to now")
	}
}
