package router

import (
	"context"
	"strings"

	"xiaov/internal/chat"
)

// Intro is the reply to personal messages that are not admin commands.
const Intro = "我是小薇机器人，加我（Q3082959578）和我的守护（Q316281008）为好友，然后将我们都邀请进群就可以开始聊天了~\nPS：我是开源的，https://github.com/b3log/xiaov 请给我小星星！"

const (
	adSeparator          = "\n\nAD 一发："
	defaultAdProbability = 0.02
)

// Config is the hot-reloadable part of the router.
type Config struct {
	BotName       string
	AdminKey      string
	Keywords      []string
	KeywordAnswer string
	Ads           []string
	AdProbability float64
	Intro         string
	Workers       int
	QueueSize     int
}

func (c Config) normalize() Config {
	// a negative probability disables ads; zero selects the default.
	switch {
	case c.AdProbability < 0:
		c.AdProbability = 0
	case c.AdProbability == 0:
		c.AdProbability = defaultAdProbability
	case c.AdProbability > 1:
		c.AdProbability = 1
	}
	if strings.TrimSpace(c.Intro) == "" {
		c.Intro = Intro
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	return c
}

// Dispatcher delivers a reply to a group with confirmation-driven retries.
type Dispatcher interface {
	Send(ctx context.Context, groupID int64, text string) error
}

// Roster lists the groups an admin broadcast reaches.
type Roster interface {
	Snapshot() []chat.Group
}

// Random is the source for advertisement decisions.
type Random interface {
	Float64() float64
	IntN(n int) int
}
