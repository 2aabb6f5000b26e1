// Package workpool runs submitted items on a fixed set of supervised workers
// fed by a bounded queue. Submit never blocks: a full queue rejects the item.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rtsup "xiaov/internal/runtime/supervisor"
	logx "xiaov/pkg/logx"
)

var (
	ErrStopped   = errors.New("work pool stopped")
	ErrQueueFull = errors.New("work pool queue full")
)

const warnThrottleEvery = 5 * time.Second

type Pool[T any] struct {
	name    string
	workers int
	size    int
	run     func(ctx context.Context, item T)
	log     logx.Logger

	mu  sync.Mutex
	q   chan T
	sup *rtsup.Supervisor

	dropped         atomic.Uint64
	lastFullWarnAt  atomic.Int64
	lastFullDropped atomic.Uint64
}

// New returns a stopped pool. workers and size below 1 are raised to 1.
func New[T any](name string, workers, size int, run func(ctx context.Context, item T), log logx.Logger) *Pool[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool[T]{
		name:    name,
		workers: max(workers, 1),
		size:    max(size, 1),
		run:     run,
		log:     log,
	}
}

// Start is idempotent.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sup != nil {
		return
	}
	p.q = make(chan T, p.size)
	// one failing item must never take the process down.
	p.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(p.log), rtsup.WithCancelOnError(false))
	q := p.q
	for i := 0; i < p.workers; i++ {
		p.sup.Go0(p.name+".worker", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case it := <-q:
					p.run(c, it)
				}
			}
		})
	}
	p.log.Info("work pool started", logx.String("pool", p.name), logx.Int("workers", p.workers), logx.Int("queue_size", p.size))
}

// Stop cancels the workers. Queued and in-flight items are abandoned, not joined.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	sup := p.sup
	p.sup = nil
	p.q = nil
	p.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	p.log.Info("work pool stopped", logx.String("pool", p.name), logx.Uint64("dropped_total", p.dropped.Load()))
}

func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	q := p.q
	p.mu.Unlock()
	if q == nil {
		p.dropped.Add(1)
		return ErrStopped
	}
	select {
	case q <- item:
		return nil
	default:
		n := p.dropped.Add(1)
		p.warnFull(n, len(q), cap(q))
		return ErrQueueFull
	}
}

// Dropped counts items rejected since creation.
func (p *Pool[T]) Dropped() uint64 { return p.dropped.Load() }

// warnFull throttles queue-full warnings under bursts.
func (p *Pool[T]) warnFull(dropped uint64, qlen, qcap int) {
	now := time.Now().UnixNano()
	last := p.lastFullWarnAt.Load()
	if now-last < int64(warnThrottleEvery) {
		return
	}
	if !p.lastFullWarnAt.CompareAndSwap(last, now) {
		return
	}
	since := dropped - p.lastFullDropped.Swap(dropped)
	p.log.Warn("work pool queue full; dropping items",
		logx.String("pool", p.name),
		logx.Uint64("dropped_since_last_warn", since),
		logx.Int("queue_len", qlen),
		logx.Int("queue_cap", qcap),
	)
}
