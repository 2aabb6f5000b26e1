package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"xiaov/internal/broadcast"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

// New builds the scheduler. roster, bc and store may each be nil; the schedules
// that need them are then skipped.
func New(cfg Config, roster Refresher, bc Enqueuer, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		roster: roster,
		bc:     bc,
		store:  store,
		now:    time.Now,
	}
}

// Validate reports the first problem in cfg without touching a running service.
func Validate(cfg Config) error {
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if rr := strings.TrimSpace(cfg.RosterRefresh); rr != "" && !strings.EqualFold(rr, "off") {
		if err := checkSpec(rr); err != nil {
			return fmt.Errorf("scheduler.roster_refresh: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, p := range cfg.Pushes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("scheduler.pushes[%d]: name required", i)
		}
		if seen[name] {
			return fmt.Errorf("scheduler.pushes[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("scheduler.pushes[%d] %q: text required", i, name)
		}
		if err := checkSpec(p.Spec); err != nil {
			return fmt.Errorf("scheduler.pushes[%d] %q: %w", i, name, err)
		}
	}
	return nil
}

func checkSpec(spec string) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	_, err = ps.Schedule()
	return err
}

// Apply swaps the config. A running scheduler re-registers every entry.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.runCtx == nil {
		return
	}
	s.restartLocked()
}

// Start begins triggering. Jobs run with ctx; it should outlive the scheduler.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx = ctx
	s.restartLocked()
}

// Stop stops triggering and waits for running jobs or ctx, whichever is first.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.defs = nil
	s.runCtx = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// restartLocked rebuilds the cron runner from s.cfg. Call with s.mu held.
func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
		s.defs = nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx := s.runCtx
	if rr := strings.TrimSpace(s.cfg.RosterRefresh); !strings.EqualFold(rr, "off") && s.roster != nil {
		if rr == "" {
			rr = DefaultRosterRefresh
		}
		s.addLocked("roster.refresh", rr, func() { s.refreshRoster(ctx) })
	}
	for _, p := range s.cfg.Pushes {
		p := p
		if s.bc == nil {
			s.log.Warn("push skipped; broadcast unavailable", logx.String("push", p.Name))
			continue
		}
		s.addLocked("push:"+strings.TrimSpace(p.Name), p.Spec, func() { s.firePush(ctx, p, s.now()) })
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) addLocked(name, spec string, fn func()) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		s.log.Error("schedule rejected", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return
	}
	sched, err := ps.Schedule()
	if err != nil {
		s.log.Error("schedule rejected", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return
	}
	id := s.c.Schedule(sched, cron.FuncJob(fn))
	s.defs = append(s.defs, entryDef{name: name, spec: spec, entryID: id})
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec),
		logx.Time("next", sched.Next(s.now().In(s.loc))))
}

func (s *Service) refreshRoster(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, rosterRefreshTimeout)
	defer cancel()
	if err := s.roster.Refresh(rctx); err != nil {
		s.log.Warn("scheduled roster refresh failed", logx.Err(err))
	}
}

// firePush hands one push to the broadcast queue unless the same push already
// fired within the same minute, which happens when a restart lands on a
// trigger.
func (s *Service) firePush(ctx context.Context, p Push, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	key := dedupKey(p.Name, at)
	if s.store != nil {
		if _, ok, err := s.store.GetDedup(ctx, key); err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		} else if ok {
			s.log.Debug("push already fired; skipping", logx.String("push", p.Name), logx.String("key", key))
			return
		}
	}

	target := broadcast.ParseTarget(p.Targets)
	if target.IsZero() {
		target = broadcast.AllGroups
	}
	id, err := s.bc.Enqueue(storage.ActionScheduledPush, p.Text, target)
	if err != nil {
		lvl := s.log.Warn
		if errors.Is(err, broadcast.ErrStopped) {
			lvl = s.log.Debug
		}
		lvl("scheduled push not enqueued", logx.String("push", p.Name), logx.Err(err))
		return
	}
	if s.store != nil {
		if err := s.store.PutDedup(ctx, key, at.Add(dedupTTL)); err != nil {
			s.log.Debug("dedup mark failed", logx.String("key", key), logx.Err(err))
		}
	}
	s.log.Info("scheduled push enqueued", logx.String("push", p.Name), logx.String("job", id), logx.String("target", target.String()))
}

func dedupKey(name string, at time.Time) string {
	return "push:" + strings.TrimSpace(name) + ":" + at.UTC().Truncate(time.Minute).Format("200601021504")
}

// loadLocationLocked resolves cfg.Timezone. Call with s.mu held.
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

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := EntryInfo{Name: d.name, Spec: d.spec}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		snap.Entries = append(snap.Entries, it)
	}
	return snap
}

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
