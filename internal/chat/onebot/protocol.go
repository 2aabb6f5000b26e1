package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	actionGetGroupList   = "get_group_list"
	actionSendGroupMsg   = "send_group_msg"
	actionSendPrivateMsg = "send_private_msg"

	postMessage   = "message"
	postMetaEvent = "meta_event"

	messagePrivate = "private"
	messageGroup   = "group"
)

// id accepts OneBot ids encoded as numbers or strings.
type id int64

func (v *id) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("onebot id %s: %w", b, err)
	}
	*v = id(n)
	return nil
}

type sender struct {
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// frame is any inbound websocket payload: an event or an action response.
type frame struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	MetaEventType string          `json:"meta_event_type"`
	SubType       string          `json:"sub_type"`
	SelfID        id              `json:"self_id"`
	MessageID     id              `json:"message_id"`
	UserID        id              `json:"user_id"`
	GroupID       id              `json:"group_id"`
	RawMessage    string          `json:"raw_message"`
	Sender        sender          `json:"sender"`
	Echo          json.RawMessage `json:"echo"`
}

type request struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    json.RawMessage `json:"echo"`
}

type sendGroupParams struct {
	GroupID    int64  `json:"group_id"`
	Message    string `json:"message"`
	AutoEscape bool   `json:"auto_escape"`
}

type sendPrivateParams struct {
	UserID     int64  `json:"user_id"`
	Message    string `json:"message"`
	AutoEscape bool   `json:"auto_escape"`
}

type groupInfo struct {
	GroupID   id     `json:"group_id"`
	GroupName string `json:"group_name"`
}

// echoKey normalizes an echo value that may come back as a JSON string or number.
func echoKey(raw json.RawMessage) string {
	return strings.Trim(string(bytes.TrimSpace(raw)), `"`)
}

var cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")

// unescapeCQ turns CQ-escaped raw_message text back into what the sender typed.
func unescapeCQ(s string) string { return cqUnescaper.Replace(s) }
