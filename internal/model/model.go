// Package model holds the domain types shared by the monitor components.
package model

import (
	"strings"
	"time"
)

// Tier is the activity-recency classification of a target.
type Tier string

const (
	TierHot    Tier = "hot"
	TierActive Tier = "active"
	TierWeak   Tier = "weak"
	TierDead   Tier = "dead"
)

func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierHot:
		return TierHot, true
	case TierActive:
		return TierActive, true
	case TierWeak:
		return TierWeak, true
	case TierDead:
		return TierDead, true
	}
	return "", false
}

// Target is a monitored post.
//
// Targets are deactivated (moved to the dormant collection), never deleted by
// the poll loop. DormantAt/DormantReason are set while Active is false.
type Target struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Label          string    `json:"label"`
	Active         bool      `json:"active"`
	Tier           Tier      `json:"tier"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
	ItemCount      int64     `json:"item_count"`
	CreatedAt      time.Time `json:"created_at"`
	DormantAt      time.Time `json:"dormant_at,omitempty"`
	DormantReason  string    `json:"dormant_reason,omitempty"`
}

// Name returns the label, falling back to the URL.
func (t Target) Name() string {
	if s := strings.TrimSpace(t.Label); s != "" {
		return s
	}
	return t.URL
}

// ActivityAnchor is the instant recency is measured from: the last observed
// activity, or the creation time for targets that never had any.
func (t Target) ActivityAnchor() time.Time {
	if !t.LastActivityAt.IsZero() {
		return t.LastActivityAt
	}
	return t.CreatedAt
}

// Item is one unit of discussion activity found on a target during a poll.
// It only lives for the duration of a poll cycle.
type Item struct {
	TargetID  string `json:"target_id"`
	ItemID    string `json:"item_id,omitempty"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	AgeText   string `json:"age"`
	ImageURL  string `json:"image_url,omitempty"`
	Permalink string `json:"permalink,omitempty"`
}
