// Package pending tracks messages that were sent to a group but not yet seen
// echoed back by the shadow listener.
package pending

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiaov/internal/metrics"
)

// DefaultCapacityFactor bounds the tracker at factor × number of known groups.
const DefaultCapacityFactor = 5

// Message is one in-flight dispatch.
type Message struct {
	ID         string
	GroupID    int64
	Text       string
	EnqueuedAt time.Time
}

// Tracker is a bounded FIFO of pending messages.
//
// Entries are keyed by a per-dispatch ID; confirmation matches on the
// (group, text) pair and clears the oldest matching entry.
type Tracker struct {
	mu      sync.Mutex
	order   *list.List               // of *Message, oldest at front
	byID    map[string]*list.Element
	groups  func() int
	factor  int
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker returns a tracker whose capacity follows groupCount.
// factor <= 0 selects DefaultCapacityFactor.
func NewTracker(groupCount func() int, factor int, m *metrics.Metrics) *Tracker {
	if factor <= 0 {
		factor = DefaultCapacityFactor
	}
	if groupCount == nil {
		groupCount = func() int { return 0 }
	}
	return &Tracker{
		order:   list.New(),
		byID:    map[string]*list.Element{},
		groups:  groupCount,
		factor:  factor,
		metrics: m,
		now:     time.Now,
	}
}

// Capacity is factor × max(groupCount, 1).
func (t *Tracker) Capacity() int {
	n := t.groups()
	if n < 1 {
		n = 1
	}
	return t.factor * n
}

// Record appends a pending entry and returns its dispatch ID. The oldest
// entries are evicted while the tracker is over capacity.
func (t *Tracker) Record(groupID int64, text string) string {
	id := uuid.NewString()
	capacity := t.Capacity()

	t.mu.Lock()
	el := t.order.PushBack(&Message{ID: id, GroupID: groupID, Text: text, EnqueuedAt: t.now()})
	t.byID[id] = el
	evicted := 0
	for t.order.Len() > capacity {
		front := t.order.Front()
		t.removeLocked(front)
		evicted++
	}
	n := t.order.Len()
	t.mu.Unlock()

	t.metrics.AddEvicted(evicted)
	t.metrics.SetPending(n)
	return id
}

// Confirm removes the oldest entry for (groupID, text). It reports whether an
// entry was removed; confirming unknown text is a no-op.
func (t *Tracker) Confirm(groupID int64, text string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for el := t.order.Front(); el != nil; el = el.Next() {
		m := el.Value.(*Message)
		if m.GroupID == groupID && m.Text == text {
			t.removeLocked(el)
			t.metrics.SetPending(t.order.Len())
			return *m, true
		}
	}
	return Message{}, false
}

// Contains reports whether the dispatch is still pending.
func (t *Tracker) Contains(id string) bool {
	t.mu.Lock()
	_, ok := t.byID[id]
	t.mu.Unlock()
	return ok
}

// Remove drops the dispatch if present.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.byID[id]
	if !ok {
		return false
	}
	t.removeLocked(el)
	t.metrics.SetPending(t.order.Len())
	return true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Snapshot returns pending messages oldest first.
func (t *Tracker) Snapshot() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Message))
	}
	return out
}

func (t *Tracker) removeLocked(el *list.Element) {
	m := t.order.Remove(el).(*Message)
	delete(t.byID, m.ID)
}
