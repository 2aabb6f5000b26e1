package dispatch

import (
	"context"
	"time"

	"xiaov/internal/chat"
)

// Config controls delivery confirmation and resends.
//
// Defaults (when fields are zero):
//   - retry_max: 3
//   - retry_interval: 3s
//   - workers: 16 (concurrent resends; waits hold no worker)
//   - queue_size: 256
type Config struct {
	RetryMax      int
	RetryInterval time.Duration
	Workers       int
	QueueSize     int
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 3 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Resolver is the roster lookup used before every dispatch.
type Resolver interface {
	Resolve(ctx context.Context, groupID int64) (chat.Group, error)
}

// retryTask is the per-dispatch state of a confirmation-driven resend chain.
// attempt is the 1-based index of the next check.
type retryTask struct {
	id      string
	group   chat.Group
	text    string
	sentAt  time.Time
	attempt int
}
