package dispatch

import (
	"xiaov/internal/chat"
	"xiaov/internal/eventbus"
	"xiaov/internal/metrics"
	"xiaov/internal/pending"
	logx "xiaov/pkg/logx"
)

// ShadowListener is the chat.Handler of the secondary session. Every group
// message it observes confirms the matching pending dispatch.
//
// Personal messages are ignored: answering them here would duplicate the
// primary session's replies.
type ShadowListener struct {
	tracker *pending.Tracker
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

var _ chat.Handler = (*ShadowListener)(nil)

func NewShadowListener(tracker *pending.Tracker, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *ShadowListener {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &ShadowListener{tracker: tracker, log: log, bus: bus, metrics: m}
}

func (s *ShadowListener) OnGroupMessage(m chat.Message) {
	pm, ok := s.tracker.Confirm(m.GroupID, m.Text)
	if !ok {
		return
	}
	s.metrics.IncConfirmed()
	s.bus.Publish(eventbus.Event{Type: eventbus.DispatchConfirmed, Data: eventbus.DeliveryEvent{ID: pm.ID, GroupID: pm.GroupID}})
	s.log.Debug("delivery confirmed", logx.String("id", pm.ID), logx.Int64("group_id", pm.GroupID))
}

func (s *ShadowListener) OnPersonalMessage(m chat.Message) {
	s.log.Debug("shadow session ignored personal message", logx.Int64("user_id", m.UserID))
}
