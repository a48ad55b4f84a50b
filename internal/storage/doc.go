// Package storage is the persistence layer for the monitor.
//
// It stores:
//   - the seen-set snapshot (fingerprint -> first-seen time)
//   - monitored targets, active and dormant
//   - an append-only audit trail of target registry changes
//
// Drivers: file (JSON snapshots), sqlite, redis.
package storage
