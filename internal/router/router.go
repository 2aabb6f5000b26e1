// Package router decides how the bot reacts to inbound messages.
//
// Group messages are relayed to the forum, and answered when they address the
// bot or look like a question. Personal messages either get the intro text or,
// when prefixed with the admin key, are broadcast to every group through the
// dispatcher.
package router

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"xiaov/internal/answer"
	"xiaov/internal/chat"
	"xiaov/internal/forum"
	"xiaov/internal/metrics"
	"xiaov/internal/runtime/workpool"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

type providerSlot struct {
	p    answer.Provider
	name string
}

type Router struct {
	cfg      atomic.Pointer[Config]
	provider atomic.Pointer[providerSlot]

	dispatcher Dispatcher
	roster     Roster
	users      chat.UserSender
	relay      forum.Relay
	store      storage.Store
	log        logx.Logger
	metrics    *metrics.Metrics
	rng        Random

	pool *workpool.Pool[chat.Message]
}

var _ chat.Handler = (*Router)(nil)

type Option func(*Router)

func WithRelay(r forum.Relay) Option {
	return func(rt *Router) {
		if r != nil {
			rt.relay = r
		}
	}
}

func WithStore(st storage.Store) Option    { return func(r *Router) { r.store = st } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }
func WithRandom(rng Random) Option          { return func(r *Router) { r.rng = rng } }

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

func New(cfg Config, provider answer.Provider, providerName string, d Dispatcher, roster Roster, users chat.UserSender, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		dispatcher: d,
		roster:     roster,
		users:      users,
		relay:      forum.Nop{},
		log:        log,
		rng:        globalRand{},
	}
	for _, o := range opts {
		o(r)
	}
	cfg = cfg.normalize()
	r.cfg.Store(&cfg)
	r.SetProvider(provider, providerName)
	r.pool = workpool.New("router", cfg.Workers, cfg.QueueSize, r.handle, log)
	return r
}

// Apply swaps the router settings. Pool sizing takes effect on the next Start.
func (r *Router) Apply(cfg Config) {
	cfg = cfg.normalize()
	r.cfg.Store(&cfg)
}

func (r *Router) SetProvider(p answer.Provider, name string) {
	r.provider.Store(&providerSlot{p: p, name: name})
}

func (r *Router) Start(ctx context.Context) { r.pool.Start(ctx) }
func (r *Router) Stop()                     { r.pool.Stop() }

// OnGroupMessage queues m for handling off the session's read loop.
func (r *Router) OnGroupMessage(m chat.Message) {
	r.metrics.IncInbound("group")
	r.submit(m)
}

func (r *Router) OnPersonalMessage(m chat.Message) {
	r.metrics.IncInbound("personal")
	r.submit(m)
}

func (r *Router) submit(m chat.Message) {
	if err := r.pool.Submit(m); err != nil {
		r.log.Warn("inbound message dropped", logx.Int64("group_id", m.GroupID), logx.Int64("user_id", m.UserID), logx.Err(err))
	}
}

func (r *Router) handle(ctx context.Context, m chat.Message) {
	switch m.Kind {
	case chat.KindGroup:
		r.handleGroup(ctx, m)
	case chat.KindPersonal:
		r.handlePersonal(ctx, m)
	}
}

// UserHandle is the anonymized author id passed to collaborators.
func UserHandle(userID int64) string { return strconv.FormatInt(userID, 16) }

func (r *Router) handleGroup(ctx context.Context, m chat.Message) {
	cfg := r.cfg.Load()
	handle := UserHandle(m.UserID)

	if stripped := StripFaces(m.Text); strings.TrimSpace(stripped) != "" {
		r.relay.Post(ctx, "<p>"+stripped+"</p>", handle)
	}

	if !ShouldAnswer(m.Text, cfg.BotName) {
		return
	}
	reply := r.answer(ctx, cfg, m.Text, handle)
	if strings.TrimSpace(reply) == "" {
		return
	}
	if len(cfg.Ads) > 0 && r.rng.Float64() < cfg.AdProbability {
		reply += adSeparator + cfg.Ads[r.rng.IntN(len(cfg.Ads))]
	}
	if err := r.dispatcher.Send(ctx, m.GroupID, reply); err != nil {
		r.log.Warn("reply not dispatched", logx.Int64("group_id", m.GroupID), logx.Err(err))
	}
}

// answer picks a canned keyword reply first, then the provider when the bot
// is named explicitly.
func (r *Router) answer(ctx context.Context, cfg *Config, content, handle string) string {
	if kw, ok := MatchKeyword(content, cfg.Keywords); ok {
		r.metrics.IncAnswer("keyword")
		return KeywordAnswer(cfg.KeywordAnswer, kw)
	}
	if cfg.BotName == "" || !strings.Contains(content, cfg.BotName) {
		return ""
	}
	slot := r.provider.Load()
	if slot == nil || slot.p == nil {
		return ""
	}
	reply, err := slot.p.Chat(ctx, handle, content)
	if err != nil {
		r.log.Warn("answer provider failed", logx.String("provider", slot.name), logx.Err(err))
		return ""
	}
	r.metrics.IncAnswer(slot.name)
	return reply
}

func (r *Router) handlePersonal(ctx context.Context, m chat.Message) {
	cfg := r.cfg.Load()
	if cfg.AdminKey == "" || !strings.HasPrefix(m.Text, cfg.AdminKey) {
		if err := r.users.SendToUser(ctx, m.UserID, cfg.Intro); err != nil {
			r.log.Warn("intro reply failed", logx.Int64("user_id", m.UserID), logx.Err(err))
		}
		return
	}

	msg := strings.TrimPrefix(m.Text, cfg.AdminKey)
	if strings.TrimSpace(msg) == "" {
		return
	}
	r.log.Info("received admin message", logx.Int64("user_id", m.UserID), logx.String("msg", msg))

	start := time.Now()
	entry := storage.AuditEntry{At: start, ActorID: m.UserID, Action: storage.ActionAdminBroadcast, Target: "*", Text: msg}
	for _, g := range r.roster.Snapshot() {
		if err := r.dispatcher.Send(ctx, g.ID, msg); err != nil {
			entry.Fail++
			entry.Error = err.Error()
			continue
		}
		entry.OK++
	}
	entry.TookMS = time.Since(start).Milliseconds()
	storage.Audit(ctx, r.store, r.log, entry)
}
