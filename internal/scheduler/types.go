// Package scheduler triggers periodic roster refreshes and configured pushes.
//
// It owns no execution of its own: a refresh calls the roster directly, a push
// is handed to the broadcast queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"xiaov/internal/broadcast"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

const (
	DefaultRosterRefresh = "@every 10m"
	rosterRefreshTimeout = 30 * time.Second
	dedupTTL             = time.Hour
)

// Push is one scheduled broadcast.
type Push struct {
	Name    string
	Spec    string
	Text    string
	Targets string // "*" or comma separated group name fragments
}

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"
	// RosterRefresh is a schedule string; "off" disables it.
	RosterRefresh string
	Pushes        []Push
}

// Refresher is the roster subset the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Enqueuer is the broadcast subset the scheduler drives.
type Enqueuer interface {
	Enqueue(name, text string, target broadcast.Target) (string, error)
}

type entryDef struct {
	name    string
	spec    string
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	roster Refresher
	bc     Enqueuer
	store  storage.Store

	runCtx context.Context
	c      *cron.Cron
	defs   []entryDef

	now func() time.Time
}

// EntryInfo describes one registered schedule.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Entries  []EntryInfo
}
