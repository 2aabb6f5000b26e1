package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiaov/internal/chat"
	"xiaov/internal/eventbus"
	"xiaov/internal/metrics"
	rtsup "xiaov/internal/runtime/supervisor"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	cfg     Config
	roster  Roster
	sender  chat.GroupSender
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store
	sleep   sleepFunc

	queue chan job
	sup   *rtsup.Supervisor

	statusMu sync.RWMutex
	status   map[string]*JobStatus
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithStore enables the audit trail for enqueued jobs.
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }

func New(cfg Config, roster Roster, sender chat.GroupSender, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		roster: roster,
		sender: sender,
		log:    log,
		bus:    eventbus.Nop(),
		sleep:  sleepCtx,
		status: map[string]*JobStatus{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps pacing and push settings. The queue size takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Broadcast sends text to every roster group matched by target, in roster
// order, pausing Interval after each send. It returns on the first send error.
func (s *Service) Broadcast(ctx context.Context, text string, target Target) (Result, error) {
	var res Result
	if strings.TrimSpace(text) == "" {
		return res, ErrEmptyText
	}
	interval := s.config().Interval

	for _, g := range s.roster.Snapshot() {
		if !target.Matches(g) {
			continue
		}
		res.Matched++
		s.log.Info("broadcasting to group", logx.String("group", g.Name), logx.Int64("group_id", g.ID))
		if err := s.sender.SendToGroup(ctx, g.ID, text); err != nil {
			failed := g
			res.FailedGroup = &failed
			s.metrics.IncBroadcastFailed()
			s.log.Error("broadcast aborted", logx.String("group", g.Name), logx.Int64("group_id", g.ID), logx.String("msg", text), logx.Int("sent", res.Sent), logx.Err(err))
			return res, fmt.Errorf("broadcast to group %d: %w", g.ID, err)
		}
		res.Sent++
		s.metrics.IncBroadcastSent()
		if err := s.sleep(ctx, interval); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Start launches the job worker. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q := s.queue
	s.sup.Go0("broadcast.worker", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case j := <-q:
				s.execJob(c, j)
			}
		}
	})
	s.log.Info("broadcast service started", logx.Int("queue_size", s.cfg.QueueSize), logx.Duration("interval", s.cfg.Interval))
}

// Stop cancels the worker and waits for it up to ctx. Queued jobs are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("broadcast service stopped")
	return err
}

// Enqueue schedules a broadcast job and returns its ID.
func (s *Service) Enqueue(name, text string, target Target) (string, error) {
	return s.enqueue(job{name: name, text: text, target: target})
}

// EnqueueBy is Enqueue with the operator recorded in the audit trail.
func (s *Service) EnqueueBy(actor int64, name, text string, target Target) (string, error) {
	return s.enqueue(job{name: name, text: text, target: target, actor: actor})
}

// Push broadcasts text to the configured push groups. A blank push target is a
// no-op and returns an empty job ID.
func (s *Service) Push(text string) (string, error) {
	target := ParseTarget(s.config().PushGroups)
	if target.IsZero() {
		s.log.Debug("push skipped; no push groups configured")
		return "", nil
	}
	return s.enqueue(job{name: storage.ActionPush, text: text, target: target})
}

func (s *Service) enqueue(j job) (string, error) {
	if strings.TrimSpace(j.text) == "" {
		return "", ErrEmptyText
	}
	now := time.Now()
	j.id = "bc:" + uuid.NewString()
	s.pruneStatus(now)

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return "", ErrStopped
	}

	st := &JobStatus{ID: j.id, Name: j.name, Target: j.target.String(), CreatedAt: now}
	s.statusMu.Lock()
	s.status[j.id] = st
	s.statusMu.Unlock()

	select {
	case q <- j:
		s.log.Debug("broadcast job enqueued", logx.String("job", j.id), logx.String("name", j.name), logx.Int("queue_len", len(q)))
		return j.id, nil
	default:
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", j.id), logx.String("name", j.name), logx.Int("queue_cap", cap(q)))
		s.statusMu.Lock()
		st.DoneAt = time.Now()
		st.Err = ErrQueueFull.Error()
		s.statusMu.Unlock()
		return j.id, ErrQueueFull
	}
}

// Status returns a copy of the job's bookkeeping.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.updateStatus(j.id, func(st *JobStatus) {
		st.StartedAt = start
		st.Running = true
	})

	res, err := s.Broadcast(ctx, j.text, j.target)

	s.updateStatus(j.id, func(st *JobStatus) {
		st.Matched = res.Matched
		st.Sent = res.Sent
		st.DoneAt = time.Now()
		st.Running = false
		if err != nil {
			st.Err = err.Error()
		}
	})

	entry := storage.AuditEntry{
		At:      start,
		ActorID: j.actor,
		Action:  j.name,
		Target:  j.target.String(),
		Text:    j.text,
		OK:      res.Sent,
		Fail:    res.Matched - res.Sent,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		entry.Error = err.Error()
	}
	storage.Audit(context.WithoutCancel(ctx), s.store, s.log, entry)

	s.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Time: time.Now(), Data: j.id})
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("matched", res.Matched),
		logx.Int("sent", res.Sent),
		logx.Duration("dur", time.Since(start)),
	}
	if err != nil {
		s.log.Warn("broadcast job finished with failure", append(fields, logx.Err(err))...)
		return
	}
	s.log.Info("broadcast job finished", fields...)
}

func (s *Service) updateStatus(id string, fn func(*JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}
