package storage

import (
	"context"
	"errors"
	"time"

	"feedwatch/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrCorrupt marks durable state that exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt state")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot files next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis at RedisURL, keys under RedisPrefix
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	RedisPrefix string
}

// SeenEntry is one persisted fingerprint.
type SeenEntry struct {
	Fingerprint string    `json:"fp"`
	SeenAt      time.Time `json:"at"`
}

// SeenStore persists the seen-set as a whole. SaveSeen replaces the previous
// snapshot with entries.
type SeenStore interface {
	LoadSeen(ctx context.Context) ([]SeenEntry, error)
	SaveSeen(ctx context.Context, entries []SeenEntry) error
}

// TargetStore persists monitored targets.
type TargetStore interface {
	LoadTargets(ctx context.Context) ([]model.Target, error)
	SaveTarget(ctx context.Context, t model.Target) error
	DeleteTarget(ctx context.Context, id string) error
}

// AuditEntry records a change to the target registry.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	TargetID string    `json:"target_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Store is the full persistence API.
type Store interface {
	SeenStore
	TargetStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
