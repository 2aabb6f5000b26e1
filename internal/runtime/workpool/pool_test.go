package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "xiaov/pkg/logx"
)

func TestSubmitBeforeStart(t *testing.T) {
	t.Parallel()
	p := New("t", 1, 1, func(context.Context, int) {}, logx.Nop())
	if err := p.Submit(1); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit = %v, want ErrStopped", err)
	}
	if p.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", p.Dropped())
	}
}

func TestRunsSubmittedItems(t *testing.T) {
	t.Parallel()
	var sum atomic.Int64
	done := make(chan struct{}, 10)
	p := New("t", 3, 10, func(_ context.Context, n int) {
		sum.Add(int64(n))
		done <- struct{}{}
	}, logx.Nop())
	p.Start(context.Background())
	defer p.Stop()

	for i := 1; i <= 4; i++ {
		if err := p.Submit(i); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	if sum.Load() != 10 {
		t.Fatalf("sum = %d, want 10", sum.Load())
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p := New("t", 1, 1, func(ctx context.Context, _ string) {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
	}, logx.Nop())
	p.Start(context.Background())
	defer p.Stop()
	defer close(block)

	if err := p.Submit("a"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	<-started
	if err := p.Submit("b"); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if err := p.Submit("c"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Submit = %v, want ErrQueueFull", err)
	}
}

func TestStopRejects(t *testing.T) {
	t.Parallel()
	p := New("t", 1, 1, func(context.Context, int) {}, logx.Nop())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	if err := p.Submit(1); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}
