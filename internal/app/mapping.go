package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"xiaov/internal/answer"
	"xiaov/internal/answer/baidu"
	"xiaov/internal/answer/turing"
	"xiaov/internal/broadcast"
	"xiaov/internal/chat/onebot"
	"xiaov/internal/config"
	"xiaov/internal/dispatch"
	"xiaov/internal/forum"
	"xiaov/internal/observability/ops"
	"xiaov/internal/router"
	"xiaov/internal/scheduler"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

const defaultAnswerTimeout = 10 * time.Second

func mapSessionConfigs(cfg *config.Config) (primary, shadow onebot.Config, err error) {
	q := cfg.QQ
	action, err := config.ParseDurationField("qq.action_timeout", q.ActionTimeout)
	if err != nil {
		return primary, shadow, err
	}
	rmin, err := config.ParseDurationField("qq.reconnect_min", q.ReconnectMin)
	if err != nil {
		return primary, shadow, err
	}
	rmax, err := config.ParseDurationField("qq.reconnect_max", q.ReconnectMax)
	if err != nil {
		return primary, shadow, err
	}
	build := func(name string, sc config.SessionConfig) (onebot.Config, error) {
		url := strings.TrimSpace(sc.URL)
		if url == "" {
			return onebot.Config{}, fmt.Errorf("qq.%s.url is required", name)
		}
		tok := sc.AccessToken
		if tok == "" {
			tok = q.AccessToken
		}
		return onebot.Config{
			Name:          name,
			URL:           url,
			AccessToken:   tok,
			ActionTimeout: action,
			ReconnectMin:  rmin,
			ReconnectMax:  rmax,
		}, nil
	}
	if primary, err = build("primary", q.Primary); err != nil {
		return primary, shadow, err
	}
	if shadow, err = build("shadow", q.Shadow); err != nil {
		return primary, shadow, err
	}
	if primary.URL == shadow.URL {
		return primary, shadow, errors.New("qq.primary.url and qq.shadow.url must be different sessions")
	}
	return primary, shadow, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, int, error) {
	d := cfg.Dispatch
	if d.RetryMax < 0 || d.Workers < 0 || d.QueueSize < 0 || d.CapacityFactor < 0 {
		return dispatch.Config{}, 0, errors.New("dispatch: counts must be >= 0")
	}
	interval, err := config.ParseDurationField("dispatch.retry_interval", d.RetryInterval)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	return dispatch.Config{
		RetryMax:      d.RetryMax,
		RetryInterval: interval,
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
	}, d.CapacityFactor, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	if b.QueueSize < 0 || b.StatusMax < 0 {
		return broadcast.Config{}, errors.New("broadcast: counts must be >= 0")
	}
	interval, err := config.ParseDurationField("broadcast.interval", b.Interval)
	if err != nil {
		return broadcast.Config{}, err
	}
	ttl, err := config.ParseDurationField("broadcast.status_ttl", b.StatusTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Interval:   interval,
		QueueSize:  b.QueueSize,
		StatusMax:  b.StatusMax,
		StatusTTL:  ttl,
		PushGroups: cfg.Bot.PushGroups,
	}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	b := cfg.Bot
	if b.Workers < 0 || b.QueueSize < 0 {
		return router.Config{}, errors.New("bot: workers and queue_size must be >= 0")
	}
	if b.AdProbability > 1 {
		return router.Config{}, fmt.Errorf("bot.ad_probability must be <= 1, got %v", b.AdProbability)
	}
	return router.Config{
		BotName:       strings.TrimSpace(b.Name),
		AdminKey:      b.Key,
		Keywords:      router.ParseKeywords(b.Follow),
		KeywordAnswer: b.KeywordAnswer,
		Ads:           router.ParseAds(b.Ads, cmp.Or(strings.TrimSpace(b.Intro), router.Intro)),
		AdProbability: b.AdProbability,
		Intro:         b.Intro,
		Workers:       b.Workers,
		QueueSize:     b.QueueSize,
	}, nil
}

// mapAnswerProvider returns a nil provider when bot.type selects none.
func mapAnswerProvider(cfg *config.Config) (answer.Provider, string, error) {
	timeout, err := config.ParseDurationOrDefault("bot.answer_timeout", cfg.Bot.AnswerTimeout, defaultAnswerTimeout)
	if err != nil {
		return nil, "", err
	}
	typ := cfg.Bot.Type
	if typ != answer.TypeTuring && typ != answer.TypeBaidu {
		return nil, answer.Name(typ), nil
	}
	p, err := answer.New(answer.Config{
		Type:    typ,
		Timeout: timeout,
		Turing:  turing.Config{API: cfg.Turing.API, Key: cfg.Turing.Key, Persona: cfg.Turing.Persona},
		Baidu:   baidu.Config{API: cfg.Baidu.API, Token: cfg.Baidu.Token, ServiceID: cfg.Baidu.ServiceID},
	})
	return p, answer.Name(typ), err
}

func mapForumConfig(cfg *config.Config) (forum.Config, error) {
	f := cfg.Forum
	timeout, err := config.ParseDurationField("forum.timeout", f.Timeout)
	if err != nil {
		return forum.Config{}, err
	}
	if f.Enabled && strings.TrimSpace(f.API) == "" {
		return forum.Config{}, errors.New("forum.api is required when forum.enabled is true")
	}
	return forum.Config{Enabled: f.Enabled, API: strings.TrimSpace(f.API), Key: f.Key, Timeout: timeout}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	out := scheduler.Config{
		Enabled:       s.Enabled,
		Timezone:      strings.TrimSpace(s.Timezone),
		RosterRefresh: strings.TrimSpace(s.RosterRefresh),
	}
	for _, p := range s.Pushes {
		out.Pushes = append(out.Pushes, scheduler.Push{Name: p.Name, Spec: p.Spec, Text: p.Text, Targets: p.Targets})
	}
	return out, scheduler.Validate(out)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Admin: logx.AdminConfig{
			Enabled:    l.Admin.Enabled,
			UserID:     l.Admin.UserID,
			MinLevel:   l.Admin.MinLevel,
			RatePerSec: l.Admin.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:              o.Enabled,
		Addr:                 strings.TrimSpace(o.Addr),
		Token:                strings.TrimSpace(o.Token),
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		PprofPrefix:          o.PprofPrefix,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}, nil
}

// validate runs every mapper so a bad hot-reload is rejected before commit.
func validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapSessionConfigs(cfg); err != nil {
		return err
	}
	if _, _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRouterConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapAnswerProvider(cfg); err != nil {
		return err
	}
	if _, err := mapForumConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := mapOpsConfig(cfg)
	return err
}
