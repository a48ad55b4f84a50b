// Package lifecycle classifies targets by activity recency and picks the ones
// that should leave the active poll set.
package lifecycle

import (
	"fmt"
	"time"

	"feedwatch/internal/model"
)

const (
	DefaultDormantAfterDays = 14

	day = 24 * time.Hour
)

// Relocated is a target moved to the dormant collection by a sweep.
type Relocated struct {
	Target model.Target
	Days   float64
	Reason string
	At     time.Time
}

// DaysSince returns the fractional days between the target's activity anchor
// and now. Future anchors count as zero.
func DaysSince(t model.Target, now time.Time) float64 {
	anchor := t.ActivityAnchor()
	if anchor.IsZero() || anchor.After(now) {
		return 0
	}
	return float64(now.Sub(anchor)) / float64(day)
}

// TierForDays applies the tier rule: d < 1 hot, 1 <= d < 7 active,
// 7 <= d < threshold weak, d >= threshold dead.
func TierForDays(d float64, thresholdDays int) model.Tier {
	if thresholdDays <= 0 {
		thresholdDays = DefaultDormantAfterDays
	}
	switch {
	case d < 1:
		return model.TierHot
	case d < 7:
		return model.TierActive
	case d < float64(thresholdDays):
		return model.TierWeak
	default:
		return model.TierDead
	}
}

// Tracker holds the dormancy threshold and clock.
type Tracker struct {
	ThresholdDays int
	Now           func() time.Time
}

func (tr Tracker) now() time.Time {
	if tr.Now != nil {
		return tr.Now()
	}
	return time.Now()
}

// Classify returns the tier of t at the current time.
func (tr Tracker) Classify(t model.Target) model.Tier {
	return TierForDays(DaysSince(t, tr.now()), tr.ThresholdDays)
}

// SweepDormant returns the active targets that classify as dead, stamped with
// a dormancy reason and time. The caller moves them; inputs are not mutated.
func (tr Tracker) SweepDormant(targets []model.Target) []Relocated {
	now := tr.now()
	threshold := tr.ThresholdDays
	if threshold <= 0 {
		threshold = DefaultDormantAfterDays
	}
	var out []Relocated
	for _, t := range targets {
		if !t.Active {
			continue
		}
		d := DaysSince(t, now)
		if TierForDays(d, threshold) != model.TierDead {
			continue
		}
		reason := fmt.Sprintf("no activity for %.1f days (threshold %d)", d, threshold)
		moved := t
		moved.Active = false
		moved.Tier = model.TierDead
		moved.DormantAt = now
		moved.DormantReason = reason
		out = append(out, Relocated{Target: moved, Days: d, Reason: reason, At: now})
	}
	return out
}
