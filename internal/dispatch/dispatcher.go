// Package dispatch fans a rendered notification out to every enabled
// destination, with per-destination format fallback and pacing.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultGapMin  = 300 * time.Millisecond
	DefaultGapMax  = 400 * time.Millisecond

	EventResult = "dispatch.result"
)

var ErrDestinationDisabled = errors.New("dispatch: destination disabled")

type Config struct {
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// GapMin..GapMax is the randomized pause between sequential sends.
	GapMin, GapMax time.Duration
	// Concurrency > 1 sends to destinations in parallel (no gap).
	Concurrency int
	// RatePerSec is a token bucket per destination. <= 0 disables it.
	RatePerSec float64

	Destinations []transport.Destination
}

// Message is one notification rendered in both formats.
type Message struct {
	HTML     string
	Plain    string
	ImageURL string
}

// Result is the outcome for one destination.
type Result struct {
	Destination string
	OK          bool
	Format      transport.PayloadKind
	Fallback    bool
	Err         error
	Took        time.Duration
}

// DestinationStatus describes a configured destination for status output.
type DestinationStatus struct {
	Name    string
	Channel transport.Channel
	Format  transport.Format
	Active  bool
	Reason  string
}

type destination struct {
	transport.Destination
	limiter *rate.Limiter
}

type state struct {
	cfg      Config
	active   []*destination
	statuses []DestinationStatus
}

type Dispatcher struct {
	tr  transport.Transport
	log logx.Logger
	bus eventbus.Bus

	mu sync.RWMutex
	st *state

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher. Destinations that fail transport validation are
// disabled for the run and logged once here. bus may be nil.
func New(cfg Config, tr transport.Transport, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	d := &Dispatcher{
		tr:    tr,
		log:   log.With(logx.String("comp", "dispatch")),
		bus:   bus,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
	d.Apply(cfg)
	return d
}

// Apply replaces the destination set and pacing. Limiters of destinations
// that keep their name survive the swap.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GapMin <= 0 && cfg.GapMax <= 0 {
		cfg.GapMin, cfg.GapMax = DefaultGapMin, DefaultGapMax
	}
	if cfg.GapMax < cfg.GapMin {
		d.log.Warn("dispatch gap_max < gap_min; using gap_min for both",
			logx.Duration("gap_min", cfg.GapMin), logx.Duration("gap_max", cfg.GapMax))
		cfg.GapMax = cfg.GapMin
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	prev := map[string]*rate.Limiter{}
	d.mu.RLock()
	if d.st != nil {
		for _, a := range d.st.active {
			prev[a.Name] = a.limiter
		}
	}
	d.mu.RUnlock()

	st := &state{cfg: cfg}
	for _, dst := range cfg.Destinations {
		dst.Channel = transport.Channel(strings.ToLower(strings.TrimSpace(string(dst.Channel))))
		if dst.Format == "" {
			dst.Format = transport.FormatRich
		}
		status := DestinationStatus{Name: dst.Name, Channel: dst.Channel, Format: dst.Format}
		switch {
		case !dst.Enabled:
			status.Reason = "disabled in config"
		case d.tr == nil:
			status.Reason = "no transport"
		default:
			if err := d.tr.Validate(dst); err != nil {
				status.Reason = err.Error()
				d.log.Warn("destination disabled for this run",
					logx.String("destination", dst.Name),
					logx.String("channel", string(dst.Channel)),
					logx.Err(err),
				)
			} else {
				status.Active = true
			}
		}
		st.statuses = append(st.statuses, status)
		if !status.Active {
			continue
		}
		lim := prev[dst.Name]
		if cfg.RatePerSec > 0 {
			if lim == nil {
				lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
			} else {
				lim.SetLimit(rate.Limit(cfg.RatePerSec))
			}
		} else {
			lim = nil
		}
		st.active = append(st.active, &destination{Destination: dst, limiter: lim})
	}

	d.mu.Lock()
	d.st = st
	d.mu.Unlock()

	d.log.Info("destinations configured", logx.Int("active", len(st.active)), logx.Int("configured", len(cfg.Destinations)))
}

func (d *Dispatcher) Destinations() []DestinationStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DestinationStatus(nil), d.st.statuses...)
}

// ActiveCount is the number of destinations a Dispatch call will try.
func (d *Dispatcher) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.st.active)
}

// Dispatch delivers msg to every active destination and returns one result
// per destination in configuration order. A failure at one destination never
// affects another.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Result {
	d.mu.RLock()
	st := d.st
	d.mu.RUnlock()

	results := make([]Result, len(st.active))
	if len(st.active) == 0 {
		return results
	}

	if st.cfg.Concurrency > 1 && len(st.active) > 1 {
		var g errgroup.Group
		g.SetLimit(st.cfg.Concurrency)
		for i, dst := range st.active {
			g.Go(func() error {
				results[i] = d.deliver(ctx, st.cfg, dst, msg)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, dst := range st.active {
			if i > 0 {
				if err := d.sleep(ctx, d.gap(st.cfg)); err != nil {
					for j := i; j < len(st.active); j++ {
						results[j] = Result{Destination: st.active[j].Name, Err: err}
					}
					break
				}
			}
			results[i] = d.deliver(ctx, st.cfg, dst, msg)
		}
	}

	for _, r := range results {
		eventbus.Emit(d.bus, EventResult, r)
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, dst *destination, msg Message) (res Result) {
	started := time.Now()
	res.Destination = dst.Name
	defer func() { res.Took = time.Since(started) }()

	if dst.limiter != nil {
		if err := dst.limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
	}

	attempts := plan(dst.Format, msg)
	for i, p := range attempts {
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := d.tr.Send(actx, dst.Destination, p)
		cancel()
		if err == nil {
			res.OK = true
			res.Format = p.Kind
			res.Fallback = i > 0
			res.Err = nil
			return res
		}
		res.Err = err
		res.Format = p.Kind
		d.log.Warn("delivery attempt failed",
			logx.String("destination", dst.Name),
			logx.String("format", string(p.Kind)),
			logx.Int("attempt", i+1),
			logx.Int("attempts", len(attempts)),
			logx.ErrText(err, 200),
			logx.Local(),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

// plan lists payloads in preference order: the destination's format first,
// plain text last.
func plan(f transport.Format, msg Message) []transport.Payload {
	plain := transport.Payload{Kind: transport.KindText, Text: msg.Plain}
	if f == transport.FormatPlain {
		return []transport.Payload{plain}
	}
	rich := transport.Payload{Kind: transport.KindHTML, Text: msg.HTML}
	if strings.TrimSpace(msg.ImageURL) != "" {
		rich = transport.Payload{Kind: transport.KindPhoto, Text: msg.HTML, ImageURL: msg.ImageURL}
	}
	return []transport.Payload{rich, plain}
}

func (d *Dispatcher) gap(cfg Config) time.Duration {
	span := cfg.GapMax - cfg.GapMin
	if span <= 0 {
		return cfg.GapMin
	}
	d.rngMu.Lock()
	n := d.rng.Int63n(int64(span) + 1)
	d.rngMu.Unlock()
	return cfg.GapMin + time.Duration(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
