// Package app wires the bot: two OneBot sessions, the delivery pipeline,
// broadcast, inbound routing, scheduling, storage and the ops surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"xiaov/internal/broadcast"
	"xiaov/internal/chat/onebot"
	"xiaov/internal/config"
	"xiaov/internal/dispatch"
	"xiaov/internal/eventbus"
	"xiaov/internal/forum"
	"xiaov/internal/metrics"
	"xiaov/internal/observability/ops"
	"xiaov/internal/pending"
	"xiaov/internal/roster"
	"xiaov/internal/router"
	rtsup "xiaov/internal/runtime/supervisor"
	"xiaov/internal/scheduler"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
	"xiaov/pkg/systemd"
)

const initialRefreshTimeout = 30 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	primary *onebot.Session
	shadow  *onebot.Session

	roster     *roster.Cache
	tracker    *pending.Tracker
	dispatcher *dispatch.Dispatcher
	confirmer  *dispatch.ShadowListener
	broadcast  *broadcast.Service
	router     *router.Router
	sched      *scheduler.Service
	ops        *ops.Service
}

// New loads cfgPath and builds every component. Nothing connects until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The admin sink needs the primary session, which needs a logger; the
	// sender is attached once the session exists.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var store storage.Store
	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	pcfg, scfg, _ := mapSessionConfigs(cfg)
	primary := onebot.New(pcfg, log.With(logx.String("comp", "qq")))
	shadow := onebot.New(scfg, log.With(logx.String("comp", "qq")))
	logSvc.SetSender(primary)

	rc := roster.New(primary, log.With(logx.String("comp", "roster")), bus, m)
	dcfg, factor, _ := mapDispatchConfig(cfg)
	tracker := pending.NewTracker(rc.Len, factor, m)
	dispatcher := dispatch.New(dcfg, rc, primary, tracker, log.With(logx.String("comp", "dispatch")), bus, m)
	confirmer := dispatch.NewShadowListener(tracker, log.With(logx.String("comp", "shadow")), bus, m)

	bcfg, _ := mapBroadcastConfig(cfg)
	bc := broadcast.New(bcfg, rc, primary, log.With(logx.String("comp", "broadcast")),
		broadcast.WithBus(bus), broadcast.WithMetrics(m), broadcast.WithStore(store))

	provider, providerName, _ := mapAnswerProvider(cfg)
	fcfg, _ := mapForumConfig(cfg)
	rcfg, _ := mapRouterConfig(cfg)
	rt := router.New(rcfg, provider, providerName, dispatcher, rc, primary, log.With(logx.String("comp", "router")),
		router.WithRelay(forum.New(fcfg, log.With(logx.String("comp", "forum")))),
		router.WithStore(store),
		router.WithMetrics(m),
	)

	schedCfg, _ := mapSchedulerConfig(cfg)
	sched := scheduler.New(schedCfg, rc, bc, store, log.With(logx.String("comp", "scheduler")))

	ocfg, _ := mapOpsConfig(cfg)
	opsSvc := ops.New(ocfg, log.With(logx.String("comp", "ops")), reg, map[string]ops.Check{
		"qq.primary": connectedCheck(primary),
		"qq.shadow":  connectedCheck(shadow),
		"roster": func() error {
			if rc.Len() == 0 {
				return errors.New("empty")
			}
			return nil
		},
	})

	return &App{
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		metrics:    m,
		primary:    primary,
		shadow:     shadow,
		roster:     rc,
		tracker:    tracker,
		dispatcher: dispatcher,
		confirmer:  confirmer,
		broadcast:  bc,
		router:     rt,
		sched:      sched,
		ops:        opsSvc,
	}, nil
}

func connectedCheck(s *onebot.Session) ops.Check {
	return func() error {
		if !s.Connected() {
			return onebot.ErrNotConnected
		}
		return nil
	}
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

// Broadcast exposes the broadcast controller to embedding programs.
func (a *App) Broadcast() *broadcast.Service { return a.broadcast }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	// Consumers first so no inbound message finds a stopped pool.
	a.dispatcher.Start(runCtx)
	a.broadcast.Start(runCtx)
	a.router.Start(runCtx)

	if err := a.primary.Start(runCtx, a.router); err != nil {
		return fmt.Errorf("primary session: %w", err)
	}
	if err := a.shadow.Start(runCtx, a.confirmer); err != nil {
		return fmt.Errorf("shadow session: %w", err)
	}

	rctx, cancel := context.WithTimeout(runCtx, initialRefreshTimeout)
	if err := a.roster.Refresh(rctx); err != nil {
		a.log.Warn("initial roster load failed; groups resolve on first use", logx.Err(err))
	}
	cancel()

	a.sched.Start(runCtx)
	if cfg := a.cfgm.Get(); cfg != nil {
		if oc, err := mapOpsConfig(cfg); err == nil {
			a.ops.Reconfigure(runCtx, oc)
		}
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log, a.primary.Connected)
	})

	systemd.Ready(a.log)
	systemd.Status(a.log, fmt.Sprintf("serving %d groups", a.roster.Len()))
	a.log.Info("app started", logx.Int64("self_id", a.primary.SelfID()), logx.Int("groups", a.roster.Len()))
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
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
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if rcfg, err := mapRouterConfig(newCfg); err != nil {
		a.log.Warn("invalid bot config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(rcfg)
	}
	if p, name, err := mapAnswerProvider(newCfg); err != nil {
		a.log.Warn("invalid answer provider config; keeping previous", logx.Err(err))
	} else {
		a.router.SetProvider(p, name)
	}
	if bcfg, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.broadcast.Apply(bcfg)
	}
	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}
	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(c, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)

	// Cancel the run context first so loops start unwinding immediately.
	a.sup.Cancel()

	// Producers first: nothing new is scheduled or routed while the senders drain.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "router", time.Second, func(context.Context) error { a.router.Stop(); return nil })
	a.step(ctx, "broadcast", 2*time.Second, a.broadcast.Stop)
	a.step(ctx, "dispatch", time.Second, func(context.Context) error { a.dispatcher.Stop(); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "qq.shadow", 2*time.Second, a.shadow.Close)
	a.step(ctx, "qq.primary", 2*time.Second, a.primary.Close)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Int("pending_abandoned", a.tracker.Len()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
