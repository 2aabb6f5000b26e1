// Package broadcast fans one message out to many groups.
//
// Broadcasts are best-effort: sends go straight to the primary session, are not
// confirmation-tracked, and are paced by a fixed pause after every send. The
// first failing send aborts the rest of the fan-out; groups already reached are
// not rolled back.
//
// Jobs run one at a time on a dedicated worker so inbound message handling is
// never stalled by the pacing.
package broadcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"xiaov/internal/chat"
)

var (
	ErrStopped   = errors.New("broadcast service stopped")
	ErrQueueFull = errors.New("broadcast queue full")
	ErrEmptyText = errors.New("broadcast text is empty")
)

// Config controls pacing and job bookkeeping.
//
// Defaults (when fields are zero):
//   - interval: 3s
//   - queue_size: 16
//   - status_max: 200
//   - status_ttl: 24h
type Config struct {
	Interval   time.Duration
	QueueSize  int
	StatusMax  int
	StatusTTL  time.Duration
	PushGroups string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.StatusMax <= 0 {
		c.StatusMax = defaultStatusMax
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	return c
}

// Roster is the ordered group list a broadcast iterates.
type Roster interface {
	Snapshot() []chat.Group
}

// Target selects groups: every group, or groups whose name contains one of Names.
type Target struct {
	All   bool
	Names []string
}

// AllGroups targets every group in the roster.
var AllGroups = Target{All: true}

// ParseTarget reads "*" as all groups and anything else as a comma list of
// name substrings. Blank input yields the zero Target, which matches nothing.
func ParseTarget(s string) Target {
	s = strings.TrimSpace(s)
	if s == "*" {
		return AllGroups
	}
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return Target{Names: names}
}

func (t Target) IsZero() bool { return !t.All && len(t.Names) == 0 }

func (t Target) Matches(g chat.Group) bool {
	if t.All {
		return true
	}
	for _, n := range t.Names {
		if strings.Contains(g.Name, n) {
			return true
		}
	}
	return false
}

func (t Target) String() string {
	if t.All {
		return "*"
	}
	return strings.Join(t.Names, ",")
}

// Result summarizes one fan-out.
type Result struct {
	Matched int
	Sent    int
	// FailedGroup is set when a send aborted the fan-out.
	FailedGroup *chat.Group
}

// JobStatus is the bookkeeping of an enqueued broadcast.
type JobStatus struct {
	ID        string
	Name      string
	Target    string
	Matched   int
	Sent      int
	Err       string
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type job struct {
	id     string
	name   string
	text   string
	target Target
	actor  int64
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
