// Package housekeeping runs the periodic maintenance jobs (owner digest,
// seen-set flush safety net) on a robfig/cron scheduler.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "feedwatch/pkg/logx"
)

const maxStartupSpread = 30 * time.Second

type Config struct {
	Timezone string
}

// Job is one named periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// EntryInfo describes a registered job for status output.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	LastErr  string    `json:"last_err,omitempty"`
}

type entry struct {
	job     Job
	spec    string
	id      cron.EntryID
	lastErr string
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	ctx    context.Context
	jobs   map[string]*entry
	order  []string
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "housekeeping")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*entry{},
	}
}

// Set registers or replaces a job. A schedule of "off" (or empty) removes it.
func (s *Service) Set(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("housekeeping: job needs a name and a func")
	}
	sched := strings.TrimSpace(job.Schedule)
	if sched == "" || strings.EqualFold(sched, Off) {
		s.Remove(job.Name)
		return nil
	}
	p, err := ParseSchedule(sched)
	if err != nil {
		return fmt.Errorf("housekeeping %s: %w", job.Name, err)
	}
	spec := p.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("housekeeping %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[job.Name]; ok {
		if old.spec == spec && old.job.Timeout == job.Timeout {
			old.job = job
			return nil
		}
		if s.c != nil {
			s.c.Remove(old.id)
		}
	} else {
		s.order = append(s.order, job.Name)
	}
	e := &entry{job: job, spec: spec}
	s.jobs[job.Name] = e
	if s.c != nil {
		return s.addLocked(e)
	}
	return nil
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Apply swaps the config; a timezone change restarts the cron runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("housekeeping started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("housekeeping stopped")
}

// Entries lists jobs in registration order.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.order))
	for _, n := range s.order {
		e := s.jobs[n]
		info := EntryInfo{Name: n, Schedule: e.spec, LastErr: e.lastErr}
		if s.c != nil {
			info.Next = s.c.Entry(e.id).Next
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, n := range s.order {
		if err := s.addLocked(s.jobs[n]); err != nil {
			s.log.Warn("housekeeping job not scheduled", logx.String("job", n), logx.Err(err))
		}
	}
	s.c.Start()
}

// restartLocked does not wait for running jobs; they take s.mu on exit.
func (s *Service) restartLocked() {
	s.c.Stop()
	s.startLocked()
	s.log.Info("housekeeping restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) addLocked(e *entry) error {
	name := e.job.Name
	job := cron.FuncJob(func() { s.run(name) })

	if strings.HasPrefix(e.spec, "@every") {
		if every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(e.spec, "@every"))); err == nil && every > 0 {
			e.id = s.c.Schedule(spreadSchedule(every, time.Now().In(s.loc), name), job)
			return nil
		}
	}
	id, err := s.c.AddJob(e.spec, job)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("housekeeping: unknown job %q", name)
	}
	return s.run(name)
}

func (s *Service) run(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	parent := s.ctx
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if parent == nil {
		parent = context.Background()
	}
	job := e.job
	ctx := parent
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)

	s.mu.Lock()
	if cur, ok := s.jobs[name]; ok {
		cur.lastErr = ""
		if err != nil {
			cur.lastErr = logx.Truncate(err.Error(), 300)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("housekeeping job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.log.Debug("housekeeping job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// spreadSchedule delays the first run of an interval job by up to 30s so
// jobs registered together do not fire together.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func spreadSchedule(every time.Duration, now time.Time, tag string) cron.Schedule {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(h.Sum64())))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &startupSpreadSchedule{base: base, first: now.Add(every + jitter)}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(pairs []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		if k == "" {
			continue
		}
		out = append(out, logx.Any(k, pairs[i+1]))
	}
	return out
}
