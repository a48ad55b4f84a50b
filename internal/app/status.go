package app

import (
	"time"

	"feedwatch/internal/alert"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/housekeeping"
	"feedwatch/internal/monitor"
	"feedwatch/internal/runtime/supervisor"
	"feedwatch/internal/seen"
	"feedwatch/internal/session"
)

// Status is served as JSON on /status.
type Status struct {
	StartedAt    time.Time                    `json:"started_at"`
	Uptime       string                       `json:"uptime"`
	Session      session.Snapshot             `json:"session"`
	Targets      map[string]int               `json:"targets"`
	Dormant      int                          `json:"dormant"`
	Seen         seen.Stats                   `json:"seen"`
	Alerts       alert.Stats                  `json:"alerts"`
	Destinations []dispatch.DestinationStatus `json:"destinations"`
	LastCycle    monitor.CycleReport          `json:"last_cycle"`
	Jobs         []housekeeping.EntryInfo     `json:"jobs"`
	Goroutines   supervisor.Counters          `json:"goroutines"`
}

func (a *App) Status() Status {
	st := Status{
		StartedAt:    a.startedAt,
		Session:      a.sched.Snapshot(),
		Targets:      a.registry.CountByTier(),
		Dormant:      len(a.registry.Dormant()),
		Seen:         a.seen.Stats(),
		Alerts:       a.alerts.Stats(),
		Destinations: a.disp.Destinations(),
		LastCycle:    a.mon.LastReport(),
		Jobs:         a.hk.Entries(),
		Goroutines:   a.sup.Counters(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	return st
}
