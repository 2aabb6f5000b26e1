// Package onebot implements chat.Session over a OneBot v11 forward websocket.
//
// Actions are correlated with their responses by echo. The read loop runs
// under a supervisor and reconnects with backoff; while disconnected every
// action fails fast with ErrNotConnected.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"xiaov/internal/chat"
	rtsup "xiaov/internal/runtime/supervisor"
	logx "xiaov/pkg/logx"
)

var (
	ErrNotConnected = errors.New("onebot: not connected")
	ErrClosed       = errors.New("onebot: session closed")
	ErrTimeout      = errors.New("onebot: action timed out")
)

// APIError is a non-ok action response.
type APIError struct {
	Action  string
	RetCode int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onebot %s: retcode %d: %s", e.Action, e.RetCode, e.Message)
}

// Config describes one OneBot connection.
//
// Defaults (when fields are zero):
//   - action_timeout: 10s
//   - handshake_timeout: 10s
//   - reconnect_min: 1s
//   - reconnect_max: 30s
type Config struct {
	Name             string
	URL              string
	AccessToken      string
	ActionTimeout    time.Duration
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "onebot"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

type Session struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	sup     *rtsup.Supervisor
	handler chat.Handler
	closed  bool

	writeMu sync.Mutex
	seq     atomic.Uint64
	selfID  atomic.Int64

	waitMu  sync.Mutex
	waiters map[string]chan response
}

var _ chat.Session = (*Session)(nil)

func New(cfg Config, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		log:     log.With(logx.String("session", cfg.Name)),
		waiters: map[string]chan response{},
	}
}

// Start dials once so configuration errors surface at startup, then keeps the
// read loop alive until ctx ends or Close is called.
func (s *Session) Start(ctx context.Context, h chat.Handler) error {
	if strings.TrimSpace(s.cfg.URL) == "" {
		return errors.New("onebot: url is required")
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return errors.New("onebot: already started")
	}
	s.handler = h
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("onebot.read."+s.cfg.Name, s.readLoop,
		rtsup.WithRestartBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax),
		rtsup.WithStopOnCleanExit(true),
	)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	header := http.Header{}
	if s.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	}
	conn, resp, err := d.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("onebot dial %s: status %d: %w", s.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("onebot dial %s: %w", s.cfg.URL, err)
	}
	s.log.Info("onebot connected", logx.String("url", s.cfg.URL))
	return conn, nil
}

// readLoop owns one connection. Returning an error makes the supervisor
// redial after backoff.
func (s *Session) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	if conn == nil {
		c, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.conn = c
		s.mu.Unlock()
		conn = c
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.dropConn(conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Warn("onebot connection lost", logx.Err(err))
			return fmt.Errorf("onebot read: %w", err)
		}
		s.handleFrame(payload)
	}
}

// dropConn forgets conn and fails every in-flight action.
func (s *Session) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()

	s.waitMu.Lock()
	for k, ch := range s.waiters {
		close(ch)
		delete(s.waiters, k)
	}
	s.waitMu.Unlock()
}

func (s *Session) handleFrame(payload []byte) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		s.log.Debug("onebot frame not json", logx.Err(err))
		return
	}
	if len(f.Echo) > 0 && f.PostType == "" {
		s.deliverResponse(payload, echoKey(f.Echo))
		return
	}
	if f.SelfID != 0 {
		s.selfID.Store(int64(f.SelfID))
	}

	switch f.PostType {
	case postMessage:
		s.dispatchMessage(f)
	case postMetaEvent:
		s.log.Trace("onebot meta event", logx.String("type", f.MetaEventType), logx.String("sub_type", f.SubType))
	default:
		s.log.Trace("onebot event ignored", logx.String("post_type", f.PostType))
	}
}

func (s *Session) dispatchMessage(f frame) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	nick := f.Sender.Card
	if nick == "" {
		nick = f.Sender.Nickname
	}
	m := chat.Message{
		ID:       int64(f.MessageID),
		UserID:   int64(f.UserID),
		Nickname: nick,
		Text:     unescapeCQ(f.RawMessage),
	}
	switch f.MessageType {
	case messageGroup:
		m.Kind = chat.KindGroup
		m.GroupID = int64(f.GroupID)
		h.OnGroupMessage(m)
	case messagePrivate:
		m.Kind = chat.KindPersonal
		h.OnPersonalMessage(m)
	}
}

func (s *Session) deliverResponse(payload []byte, echo string) {
	s.waitMu.Lock()
	ch, ok := s.waiters[echo]
	if ok {
		delete(s.waiters, echo)
	}
	s.waitMu.Unlock()
	if !ok {
		s.log.Debug("onebot response without waiter", logx.String("echo", echo))
		return
	}
	var r response
	if err := json.Unmarshal(payload, &r); err != nil {
		r = response{Status: "failed", RetCode: -1, Message: err.Error()}
	}
	ch <- r
}

// call sends one action and waits for its echoed response.
func (s *Session) call(ctx context.Context, action string, params, out any) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	echo := s.cfg.Name + ":" + strconv.FormatUint(s.seq.Add(1), 10)
	wait := make(chan response, 1)
	s.waitMu.Lock()
	s.waiters[echo] = wait
	s.waitMu.Unlock()
	defer func() {
		s.waitMu.Lock()
		delete(s.waiters, echo)
		s.waitMu.Unlock()
	}()

	b, err := json.Marshal(request{Action: action, Params: params, Echo: echo})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ActionTimeout))
	err = conn.WriteMessage(websocket.TextMessage, b)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("onebot %s write: %w", action, err)
	}

	t := time.NewTimer(s.cfg.ActionTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("%w: %s", ErrTimeout, action)
	case r, ok := <-wait:
		if !ok {
			return ErrNotConnected
		}
		// retcode 1 is "async": accepted, result unknown.
		if r.Status == "failed" || r.RetCode > 1 {
			msg := r.Wording
			if msg == "" {
				msg = r.Message
			}
			return &APIError{Action: action, RetCode: r.RetCode, Message: msg}
		}
		if out != nil && len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, out); err != nil {
				return fmt.Errorf("onebot %s decode: %w", action, err)
			}
		}
		return nil
	}
}

func (s *Session) ListGroups(ctx context.Context) ([]chat.Group, error) {
	var raw []groupInfo
	if err := s.call(ctx, actionGetGroupList, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]chat.Group, 0, len(raw))
	for _, g := range raw {
		out = append(out, chat.Group{ID: int64(g.GroupID), Name: g.GroupName})
	}
	return out, nil
}

func (s *Session) SendToGroup(ctx context.Context, groupID int64, text string) error {
	return s.call(ctx, actionSendGroupMsg, sendGroupParams{GroupID: groupID, Message: text, AutoEscape: true}, nil)
}

func (s *Session) SendToUser(ctx context.Context, userID int64, text string) error {
	return s.call(ctx, actionSendPrivateMsg, sendPrivateParams{UserID: userID, Message: text, AutoEscape: true}, nil)
}

// SelfID is the account id reported by the implementation, 0 until the first event.
func (s *Session) SelfID() int64 { return s.selfID.Load() }

// Connected reports whether a websocket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close stops reconnecting, closes the socket and waits for the read loop up to ctx.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	sup := s.sup
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.log.Info("onebot session closed")
	return err
}
