package systemd

import (
	"context"
	"testing"
	"time"

	logx "xiaov/pkg/logx"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	Ready(logx.Nop())
	Status(logx.Nop(), "serving")
	Stopping(logx.Nop())
}

func TestWatchdogReturnsWhenDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		Watchdog(ctx, logx.Nop(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Watchdog kept running without WATCHDOG_USEC")
	}
}
