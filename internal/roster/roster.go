// Package roster keeps the set of groups the bot belongs to.
//
// The roster is replaced wholesale on every refresh; readers always see either
// the previous or the next snapshot, never a partially rebuilt one.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"xiaov/internal/chat"
	"xiaov/internal/eventbus"
	"xiaov/internal/metrics"
	logx "xiaov/pkg/logx"
)

var ErrGroupNotFound = errors.New("group not found in roster")

// ResolutionError is returned when a group is unknown even after a refresh.
// It usually means the roster and the protocol side disagree.
type ResolutionError struct {
	GroupID int64
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve group %d: %v", e.GroupID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type snapshot struct {
	byID  map[int64]chat.Group
	order []chat.Group
}

type Cache struct {
	lister  chat.GroupLister
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	refreshMu sync.Mutex
	cur       atomic.Pointer[snapshot]
}

func New(lister chat.GroupLister, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	c := &Cache{lister: lister, log: log, bus: bus, metrics: m}
	c.cur.Store(&snapshot{byID: map[int64]chat.Group{}})
	return c
}

// Resolve returns the group for id. A miss triggers exactly one synchronous
// Refresh and a second lookup; a second miss is a *ResolutionError.
func (c *Cache) Resolve(ctx context.Context, id int64) (chat.Group, error) {
	if g, ok := c.lookup(id); ok {
		return g, nil
	}
	if err := c.Refresh(ctx); err != nil {
		c.metrics.IncResolutionFailure()
		return chat.Group{}, &ResolutionError{GroupID: id, Err: err}
	}
	if g, ok := c.lookup(id); ok {
		return g, nil
	}
	c.metrics.IncResolutionFailure()
	return chat.Group{}, &ResolutionError{GroupID: id, Err: ErrGroupNotFound}
}

func (c *Cache) lookup(id int64) (chat.Group, bool) {
	g, ok := c.cur.Load().byID[id]
	return g, ok
}

// Refresh replaces the roster with the session's current group list.
// On error the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	groups, err := c.lister.ListGroups(ctx)
	if err != nil {
		c.log.Warn("roster refresh failed", logx.Err(err))
		return fmt.Errorf("list groups: %w", err)
	}

	next := &snapshot{
		byID:  make(map[int64]chat.Group, len(groups)),
		order: make([]chat.Group, 0, len(groups)),
	}
	var b strings.Builder
	b.WriteString("Reloaded groups:\n")
	for _, g := range groups {
		if _, dup := next.byID[g.ID]; dup {
			continue
		}
		next.byID[g.ID] = g
		next.order = append(next.order, g)
		fmt.Fprintf(&b, "    %s: %d\n", g.Name, g.ID)
	}
	c.cur.Store(next)

	c.metrics.SetRosterSize(len(next.order))
	c.bus.Publish(eventbus.Event{Type: eventbus.RosterReloaded, Data: len(next.order)})
	c.log.Info(b.String(), logx.Int("groups", len(next.order)))
	return nil
}

// Snapshot returns the roster in group-list order. The slice is a copy.
func (c *Cache) Snapshot() []chat.Group {
	return append([]chat.Group(nil), c.cur.Load().order...)
}

func (c *Cache) Len() int { return len(c.cur.Load().order) }
