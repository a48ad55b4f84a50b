package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"feedwatch/internal/alert"
	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/housekeeping"
	"feedwatch/internal/metrics"
	"feedwatch/internal/monitor"
	"feedwatch/internal/ops"
	"feedwatch/internal/runtime/supervisor"
	"feedwatch/internal/scrape"
	"feedwatch/internal/seen"
	"feedwatch/internal/session"
	"feedwatch/internal/storage"
	"feedwatch/internal/targets"
	"feedwatch/internal/transport"
	"feedwatch/internal/transport/telegram"
	"feedwatch/internal/transport/webhook"
	logx "feedwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	owner    *ownerChannel
	tg       *telegram.Transport
	registry *targets.Registry
	seen     *seen.Cache
	alerts   *alert.Limiter
	disp     *dispatch.Dispatcher
	scraper  *scrape.Scraper
	mon      *monitor.Monitor
	sched    *session.Scheduler
	metrics  *metrics.Metrics
	ops      *ops.Server
	hk       *housekeeping.Service
	tally    *housekeeping.Tally
	sd       *sdNotifier

	startedAt time.Time
	loopDone  chan struct{}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	// The owner sink needs the transport, and the transport needs a logger:
	// bootstrap without the owner sink, bind the sender, then apply in full.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Owner.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg := telegram.New(telegram.Config{HTTPTimeout: telegram.RequestTimeout(dcfg.Timeout)}, root)
	mux := transport.Mux{
		transport.ChannelTelegram: tg,
		transport.ChannelWebhook:  webhook.New(dcfg.Timeout, root),
	}

	owner := newOwnerChannel(mux)
	if err := owner.set(ownerDestination(cfg)); err != nil {
		log.Warn("owner channel unusable; alerts and digests are log-only", logx.Err(err))
	}
	logSvc.SetSender(owner)
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; seen-set and targets are memory-only")
	}
	// storage.Open returns a nil interface when disabled.
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry := targets.New(store, store, root)
	if err := registry.Load(loadCtx); err != nil {
		closeStore()
		return nil, err
	}

	seenCfg, err := mapSeenConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	seenSet := seen.New(seenCfg, store, root)
	n := seenSet.Load(loadCtx)
	log.Info("state loaded", logx.Int("fingerprints", n), logx.Int("targets", len(registry.All())))

	acfg, err := mapAlertConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	alerts := alert.New(acfg, owner, root, bus)

	disp := dispatch.New(dcfg, mux, root, bus)
	if disp.ActiveCount() == 0 {
		log.Warn("no usable notification destination configured")
	}

	scfg, err := mapScrapeConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	scraper := scrape.New(scfg, root)

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	warnLifecycle(log, mcfg)
	mon := monitor.New(mcfg, monitor.Deps{
		Scraper:    scraper,
		Seen:       seenSet,
		Dispatcher: disp,
		Alerts:     alerts,
		Registry:   registry,
		Bus:        bus,
		Log:        root,
	})

	sesCfg, err := mapSessionConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	sched := session.New(sesCfg, session.NewRandom(), root, bus)

	met := metrics.New(metrics.Sources{
		SeenLen:            seenSet.Len,
		TargetsByTier:      registry.CountByTier,
		ActiveDestinations: disp.ActiveCount,
	})

	hp, err := mapHousekeeping(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		owner:    owner,
		tg:       tg,
		registry: registry,
		seen:     seenSet,
		alerts:   alerts,
		disp:     disp,
		scraper:  scraper,
		mon:      mon,
		sched:    sched,
		metrics:  met,
		hk:       housekeeping.New(hp.cfg, root),
		tally:    housekeeping.NewTally(time.Now()),
		sd:       newSdNotifier(root.With(logx.String("comp", "systemd"))),
		loopDone: make(chan struct{}),
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.ops = ops.New(opsCfg, ops.Deps{
		Status:  func() any { return a.Status() },
		Metrics: met.Handler(),
		Health:  a.health,
	}, root)

	if err := a.setJobs(hp); err != nil {
		closeStore()
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// ShutdownTimeout is the configured bound for Stop.
func (a *App) ShutdownTimeout() time.Duration {
	return shutdownTimeout(a.cfgm.Get())
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.hk.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	a.sup.GoRestart("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.GoRestart("digest.tally", func(c context.Context) error { return a.tally.Run(c, a.bus) })

	a.sup.Go("session.loop", func(c context.Context) error {
		defer close(a.loopDone)
		return a.sched.Run(c, a.pollCycle)
	})

	// Keep event logging at debug level; cycles are frequent.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.RunWatchdog(c, a.health)
	})

	a.sd.Ready()
	a.log.Info("app started",
		logx.Int("targets_active", len(a.registry.Active())),
		logx.Int("destinations", a.disp.ActiveCount()),
		logx.String("session", string(a.sched.Snapshot().State)),
	)
	return nil
}

// pollCycle runs one monitor cycle. A panic is contained to the cycle so the
// session loop keeps its timing.
func (a *App) pollCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("poll cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())), logx.Local())
			a.alerts.MaybeRaise(ctx, "Poll cycle panicked", fmt.Sprint(r))
		}
	}()
	a.mon.RunCycle(ctx)
}

// applyConfig pushes a reloaded config into the running components. Storage,
// seen-set and scraper settings are read once at startup.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "seen", "scraper":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	// update the owner target first so Apply() mirrors to the right chat
	if err := a.owner.set(ownerDestination(newCfg)); err != nil {
		a.log.Warn("owner channel unusable; alerts and digests are log-only", logx.Err(err))
	}
	a.logs.Apply(mapLogConfig(newCfg))

	if c, err := mapAlertConfig(newCfg); err != nil {
		a.log.Warn("invalid alert config; keeping previous", logx.Err(err))
	} else {
		a.alerts.Apply(c)
	}
	if c, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.tg.SetHTTPTimeout(telegram.RequestTimeout(c.Timeout))
		a.disp.Apply(c)
	}
	if c, err := mapMonitorConfig(newCfg); err != nil {
		a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
	} else {
		warnLifecycle(a.log, c)
		a.mon.Apply(c)
	}
	if c, err := mapSessionConfig(newCfg); err != nil {
		a.log.Warn("invalid session config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(c)
	}
	if c, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, c)
	}
	if hp, err := mapHousekeeping(newCfg); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else {
		a.hk.Apply(hp.cfg)
		if err := a.setJobs(hp); err != nil {
			a.log.Warn("housekeeping jobs not updated", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) setJobs(hp housekeepingPlan) error {
	return errors.Join(
		a.hk.Set(housekeeping.Job{
			Name:     "digest",
			Schedule: hp.digest,
			Timeout:  time.Minute,
			Run:      a.sendDigest,
		}),
		a.hk.Set(housekeeping.Job{
			Name:     "seen.flush",
			Schedule: hp.seenFlush,
			Timeout:  30 * time.Second,
			Run:      a.seen.Flush,
		}),
	)
}

func (a *App) sendDigest(ctx context.Context) error {
	now := time.Now()
	since, cycles, sum := a.tally.Take(now)
	st := a.alerts.Stats()
	d := housekeeping.Digest{
		Since:            since,
		Until:            now,
		Cycles:           cycles,
		Totals:           sum,
		Targets:          a.registry.CountByTier(),
		SeenLen:          a.seen.Len(),
		AlertsRaised:     st.Raised,
		AlertsSuppressed: st.Suppressed,
		Session:          string(a.sched.Snapshot().State),
	}
	text := d.Format()
	a.log.Info("digest", logx.Int("cycles", cycles), logx.Int("dispatched", sum.Dispatched))
	return a.owner.SendText(ctx, text)
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	select {
	case <-a.loopDone:
		return errors.New("session loop stopped")
	default:
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately. The
	// in-flight target of a running cycle finishes under its own step bound.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The session loop returns once the current target is done.
	step("session", 0, func(c context.Context) error {
		select {
		case <-a.loopDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("seen", 10*time.Second, func(c context.Context) error { return a.seen.Close(c) })
	step("alerts", 5*time.Second, func(c context.Context) error { a.alerts.Flush(c); return nil })
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("scraper", 5*time.Second, func(context.Context) error { return a.scraper.Close() })
	step("storage", 2*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, metrics, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func warnLifecycle(log logx.Logger, c monitor.Config) {
	if c.DormantAfterDays < 7 {
		log.Warn("lifecycle.dormant_after_days is below the weak tier; targets go dormant straight from active",
			logx.Int("days", c.DormantAfterDays))
	}
}
