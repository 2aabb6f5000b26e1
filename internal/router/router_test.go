package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"xiaov/internal/answer"
	"xiaov/internal/chat"
	logx "xiaov/pkg/logx"
)

type dispatched struct {
	groupID int64
	text    string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sends []dispatched
	fail  map[int64]bool
}

func (f *fakeDispatcher) Send(_ context.Context, groupID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[groupID] {
		return errors.New("unresolved")
	}
	f.sends = append(f.sends, dispatched{groupID, text})
	return nil
}

type staticRoster []chat.Group

func (r staticRoster) Snapshot() []chat.Group { return r }

type userMsg struct {
	userID int64
	text   string
}

type fakeUsers struct{ sent []userMsg }

func (f *fakeUsers) SendToUser(_ context.Context, userID int64, text string) error {
	f.sent = append(f.sent, userMsg{userID, text})
	return nil
}

type relayCall struct{ msg, author string }

type fakeRelay struct{ calls []relayCall }

func (f *fakeRelay) Post(_ context.Context, msg, author string) {
	f.calls = append(f.calls, relayCall{msg, author})
}

type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(int) int     { return r.n }

type providerCall struct{ handle, text string }

type harness struct {
	r        *Router
	d        *fakeDispatcher
	users    *fakeUsers
	relay    *fakeRelay
	calls    []providerCall
	reply    string
	replyErr error
}

func newHarness(cfg Config, rng Random) *harness {
	h := &harness{d: &fakeDispatcher{}, users: &fakeUsers{}, relay: &fakeRelay{}, reply: "你好，我是小薇"}
	p := answer.ProviderFunc(func(_ context.Context, handle, text string) (string, error) {
		h.calls = append(h.calls, providerCall{handle, text})
		return h.reply, h.replyErr
	})
	if rng == nil {
		rng = fixedRand{f: 1}
	}
	roster := staticRoster{{ID: 1001, Name: "Devs"}, {ID: 1002, Name: "Users"}}
	h.r = New(cfg, p, "turing", h.d, roster, h.users, logx.Nop(), WithRelay(h.relay), WithRandom(rng))
	return h
}

func group(text string) chat.Message {
	return chat.Message{Kind: chat.KindGroup, GroupID: 1001, UserID: 255, Text: text}
}

func TestNamedQuestionGoesToProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{BotName: "XiaoV", Keywords: []string{"java"}}, nil)

	h.r.handle(context.Background(), group("XiaoV你好？"))

	if len(h.calls) != 1 || h.calls[0] != (providerCall{handle: "ff", text: "XiaoV你好？"}) {
		t.Fatalf("provider calls = %+v", h.calls)
	}
	if len(h.d.sends) != 1 || h.d.sends[0] != (dispatched{1001, "你好，我是小薇"}) {
		t.Fatalf("dispatched = %+v", h.d.sends)
	}
}

func TestKeywordBeatsProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{
		BotName:       "XiaoV",
		Keywords:      []string{"Java", "Go"},
		KeywordAnswer: "搜索 {keyword}",
	}, nil)

	h.r.handle(context.Background(), group("XiaoV 会 go 吗？"))

	if len(h.calls) != 0 {
		t.Fatalf("provider called despite keyword: %+v", h.calls)
	}
	if len(h.d.sends) != 1 || h.d.sends[0].text != "搜索 Go" {
		t.Fatalf("dispatched = %+v", h.d.sends)
	}
}

func TestUnnamedQuestionWithoutKeywordIsSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{BotName: "XiaoV"}, nil)

	h.r.handle(context.Background(), group("有人知道这个怎么弄吗？"))

	if len(h.calls) != 0 || len(h.d.sends) != 0 {
		t.Fatalf("calls=%+v sends=%+v, want nothing", h.calls, h.d.sends)
	}
}

func TestProviderFailureIsNotDispatched(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{BotName: "XiaoV"}, nil)
	h.replyErr = errors.New("quota")

	h.r.handle(context.Background(), group("XiaoV 在吗"))
	if len(h.d.sends) != 0 {
		t.Fatalf("dispatched %+v after provider failure", h.d.sends)
	}
}

func TestAdAppended(t *testing.T) {
	t.Parallel()
	cfg := Config{BotName: "XiaoV", Ads: []string{"ad-0", "ad-1"}, AdProbability: 0.02}

	h := newHarness(cfg, fixedRand{f: 0.01, n: 1})
	h.r.handle(context.Background(), group("XiaoV 在吗"))
	if got := h.d.sends[0].text; got != "你好，我是小薇\n\nAD 一发：ad-1" {
		t.Fatalf("reply = %q", got)
	}

	h = newHarness(cfg, fixedRand{f: 0.5})
	h.r.handle(context.Background(), group("XiaoV 在吗"))
	if got := h.d.sends[0].text; got != "你好，我是小薇" {
		t.Fatalf("reply = %q, want no ad", got)
	}
}

func TestForumRelayStripsFaces(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{BotName: "XiaoV"}, nil)

	h.r.handle(context.Background(), group(`早上好["face",14]`))
	h.r.handle(context.Background(), group(`["face",14][CQ:face,id=2]`))

	if len(h.relay.calls) != 1 {
		t.Fatalf("relay calls = %+v, want 1", h.relay.calls)
	}
	if got := h.relay.calls[0]; got != (relayCall{"<p>早上好</p>", "ff"}) {
		t.Fatalf("relay = %+v", got)
	}
}

func TestPersonalMessageGetsIntro(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{AdminKey: "k3y"}, nil)

	h.r.handle(context.Background(), chat.Message{Kind: chat.KindPersonal, UserID: 7, Text: "hello"})

	if len(h.users.sent) != 1 || h.users.sent[0] != (userMsg{7, Intro}) {
		t.Fatalf("user replies = %+v", h.users.sent)
	}
	if len(h.d.sends) != 0 {
		t.Fatal("non-admin message was broadcast")
	}
}

func TestBlankAdminKeyNeverBroadcasts(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{}, nil)
	h.r.handle(context.Background(), chat.Message{Kind: chat.KindPersonal, UserID: 7, Text: "anything"})
	if len(h.d.sends) != 0 || len(h.users.sent) != 1 {
		t.Fatalf("sends=%+v users=%+v", h.d.sends, h.users.sent)
	}
}

func TestAdminPrefixBroadcastsThroughDispatcher(t *testing.T) {
	t.Parallel()
	h := newHarness(Config{AdminKey: "k3y"}, nil)
	h.d.fail = map[int64]bool{1001: true}

	h.r.handle(context.Background(), chat.Message{Kind: chat.KindPersonal, UserID: 7, Text: "k3y 今晚八点分享"})

	if len(h.users.sent) != 0 {
		t.Fatalf("admin got intro: %+v", h.users.sent)
	}
	// 1001 fails but does not stop 1002.
	if len(h.d.sends) != 1 || h.d.sends[0] != (dispatched{1002, " 今晚八点分享"}) {
		t.Fatalf("dispatched = %+v", h.d.sends)
	}
}
