package chat

import "context"

type MessageKind string

const (
	KindPersonal MessageKind = "personal"
	KindGroup    MessageKind = "group"
)

// Group is one entry of the bot's roster.
type Group struct {
	ID   int64
	Name string
}

type Message struct {
	Kind     MessageKind
	ID       int64
	GroupID  int64 // 0 for personal messages
	UserID   int64
	Nickname string
	Text     string
}

// Handler receives inbound messages. Callbacks run on the session's read loop
// and must return quickly.
type Handler interface {
	OnPersonalMessage(m Message)
	OnGroupMessage(m Message)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Personal func(m Message)
	Group    func(m Message)
}

func (h HandlerFuncs) OnPersonalMessage(m Message) {
	if h.Personal != nil {
		h.Personal(m)
	}
}

func (h HandlerFuncs) OnGroupMessage(m Message) {
	if h.Group != nil {
		h.Group(m)
	}
}

// Session is one live connection to the chat protocol.
//
// The bot runs two of them: the primary session handles inbound traffic and
// every outbound send, the shadow session only observes group traffic.
type Session interface {
	Start(ctx context.Context, h Handler) error
	ListGroups(ctx context.Context) ([]Group, error)
	// SendToGroup is best-effort: a nil error does not mean the group received it.
	SendToGroup(ctx context.Context, groupID int64, text string) error
	SendToUser(ctx context.Context, userID int64, text string) error
	Close(ctx context.Context) error
}

// GroupSender is the subset of Session used by outbound components.
type GroupSender interface {
	SendToGroup(ctx context.Context, groupID int64, text string) error
}

// GroupLister is the subset of Session used by the roster.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]Group, error)
}

// UserSender is the subset of Session used for personal replies.
type UserSender interface {
	SendToUser(ctx context.Context, userID int64, text string) error
}
