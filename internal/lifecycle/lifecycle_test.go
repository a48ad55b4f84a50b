package lifecycle

import (
	"testing"
	"time"

	"feedwatch/internal/model"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func ago(days float64) time.Time {
	return now.Add(-time.Duration(days * float64(24*time.Hour)))
}

func TestTierBoundaries(t *testing.T) {
	t.Parallel()

	tr := Tracker{ThresholdDays: 14, Now: func() time.Time { return now }}
	cases := []struct {
		days float64
		want model.Tier
	}{
		{0, model.TierHot},
		{0.99, model.TierHot},
		{1, model.TierActive},
		{6.99, model.TierActive},
		{7, model.TierWeak},
		{13.99, model.TierWeak},
		{14, model.TierDead},
		{40, model.TierDead},
	}
	for _, tc := range cases {
		got := tr.Classify(model.Target{LastActivityAt: ago(tc.days)})
		if got != tc.want {
			t.Fatalf("d=%v: got %s, want %s", tc.days, got, tc.want)
		}
	}
}

func TestNoActivityUsesCreatedAt(t *testing.T) {
	t.Parallel()

	tr := Tracker{Now: func() time.Time { return now }}
	if got := tr.Classify(model.Target{CreatedAt: ago(20)}); got != model.TierDead {
		t.Fatalf("got %s, want dead", got)
	}
	if got := tr.Classify(model.Target{CreatedAt: ago(0.5)}); got != model.TierHot {
		t.Fatalf("got %s, want hot", got)
	}
}

func TestSweepDormant(t *testing.T) {
	t.Parallel()

	tr := Tracker{ThresholdDays: 10, Now: func() time.Time { return now }}
	in := []model.Target{
		{ID: "fresh", Active: true, LastActivityAt: ago(2)},
		{ID: "stale", Active: true, LastActivityAt: ago(10)},
		{ID: "already", Active: false, LastActivityAt: ago(50)},
	}
	out := tr.SweepDormant(in)
	if len(out) != 1 || out[0].Target.ID != "stale" {
		t.Fatalf("sweep = %+v", out)
	}
	moved := out[0].Target
	if moved.Active || moved.Tier != model.TierDead || !moved.DormantAt.Equal(now) || moved.DormantReason == "" {
		t.Fatalf("relocated target not stamped: %+v", moved)
	}
	if !in[1].Active {
		t.Fatalf("input must not be mutated")
	}
}
