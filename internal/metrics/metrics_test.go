package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedwatch/internal/alert"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/monitor"
	"feedwatch/internal/session"
)

func TestObserveAndScrape(t *testing.T) {
	t.Parallel()

	m := New(Sources{
		SeenLen:            func() int { return 42 },
		TargetsByTier:      func() map[string]int { return map[string]int{"hot": 2, "dormant": 1} },
		ActiveDestinations: func() int { return 3 },
	})
	m.Observe(eventbus.Event{Type: monitor.EventCycleDone, Data: monitor.CycleReport{Dispatched: 4, Duplicate: 2, Took: 3 * time.Second}})
	m.Observe(eventbus.Event{Type: dispatch.EventResult, Data: dispatch.Result{Destination: "main", OK: true}})
	m.Observe(eventbus.Event{Type: dispatch.EventResult, Data: dispatch.Result{Destination: "hook", Fallback: true}})
	m.Observe(eventbus.Event{Type: alert.EventSuppressed, Data: "x"})
	m.Observe(eventbus.Event{Type: session.EventState, Data: session.Transition{To: session.StateActive}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`feedwatch_items_total{outcome="dispatched"} 4`,
		`feedwatch_items_total{outcome="duplicate"} 2`,
		`feedwatch_dispatch_results_total{destination="main",fallback="false",outcome="ok"} 1`,
		`feedwatch_dispatch_results_total{destination="hook",fallback="true",outcome="failed"} 1`,
		`feedwatch_alerts_total{decision="suppressed"} 1`,
		`feedwatch_session_state{state="ACTIVE_SESSION"} 1`,
		`feedwatch_session_state{state="ASLEEP"} 0`,
		`feedwatch_seen_fingerprints 42`,
		`feedwatch_targets{tier="dormant"} 1`,
		`feedwatch_destinations_active 3`,
		`feedwatch_poll_cycle_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in scrape output:\n%s", want, out)
		}
	}
}
