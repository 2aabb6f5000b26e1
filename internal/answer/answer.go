// Package answer selects the conversational provider that replies to messages
// addressed to the bot.
package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xiaov/internal/answer/baidu"
	"xiaov/internal/answer/turing"
)

// Provider types, matching bot.bot_type in config.
const (
	TypeTuring = 1
	TypeBaidu  = 2
)

var ErrUnknownType = errors.New("unknown answer provider type")

// Provider returns a reply for text sent by the user identified by userHandle.
type Provider interface {
	Chat(ctx context.Context, userHandle, text string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, userHandle, text string) (string, error)

func (f ProviderFunc) Chat(ctx context.Context, userHandle, text string) (string, error) {
	return f(ctx, userHandle, text)
}

type Config struct {
	Type    int
	Timeout time.Duration
	Turing  turing.Config
	Baidu   baidu.Config
}

// New builds the provider selected by cfg.Type.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case TypeTuring:
		tc := cfg.Turing
		if tc.Timeout <= 0 {
			tc.Timeout = cfg.Timeout
		}
		return turing.New(tc), nil
	case TypeBaidu:
		bc := cfg.Baidu
		if bc.Timeout <= 0 {
			bc.Timeout = cfg.Timeout
		}
		return baidu.New(bc), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, cfg.Type)
	}
}

// Name is the metrics/log label of a provider type.
func Name(typ int) string {
	switch typ {
	case TypeTuring:
		return "turing"
	case TypeBaidu:
		return "baidu"
	default:
		return "unknown"
	}
}
