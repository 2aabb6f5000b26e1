package app

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"xiaov/internal/answer"
	"xiaov/internal/config"
	"xiaov/internal/router"
)

func baseConfig() *config.Config {
	return &config.Config{
		QQ: config.QQConfig{
			Primary:     config.SessionConfig{URL: "ws://127.0.0.1:3001"},
			Shadow:      config.SessionConfig{URL: "ws://127.0.0.1:3002", AccessToken: "own"},
			AccessToken: "shared",
		},
		Bot: config.BotConfig{Name: "小薇", Key: "xiaov:", Type: answer.TypeTuring},
	}
}

func TestMapSessionConfigs(t *testing.T) {
	t.Parallel()
	p, s, err := mapSessionConfigs(baseConfig())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if p.Name != "primary" || p.AccessToken != "shared" {
		t.Fatalf("primary = %+v", p)
	}
	if s.Name != "shadow" || s.AccessToken != "own" {
		t.Fatalf("shadow = %+v", s)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing shadow", func(c *config.Config) { c.QQ.Shadow.URL = "" }, "qq.shadow.url"},
		{"same session twice", func(c *config.Config) { c.QQ.Shadow.URL = c.QQ.Primary.URL }, "different"},
		{"bad retry interval", func(c *config.Config) { c.Dispatch.RetryInterval = "soon" }, "dispatch.retry_interval"},
		{"negative retries", func(c *config.Config) { c.Dispatch.RetryMax = -1 }, "dispatch"},
		{"ad probability", func(c *config.Config) { c.Bot.AdProbability = 1.5 }, "ad_probability"},
		{"forum without api", func(c *config.Config) { c.Forum.Enabled = true }, "forum.api"},
		{"bad push spec", func(c *config.Config) {
			c.Scheduler.Pushes = []config.PushConfig{{Name: "p", Spec: "whenever", Text: "hi"}}
		}, "scheduler.pushes"},
		{"unknown storage", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"file storage without path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "file"} }, "storage.path"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(cfg)
			err := validate(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("validate = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
	if err := validate(context.Background(), baseConfig()); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
}

func TestMapAnswerProvider(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		typ      int
		wantNil  bool
		wantName string
	}{
		{answer.TypeTuring, false, "turing"},
		{answer.TypeBaidu, false, "baidu"},
		{0, true, "unknown"},
		{7, true, "unknown"},
	} {
		cfg := baseConfig()
		cfg.Bot.Type = tc.typ
		p, name, err := mapAnswerProvider(cfg)
		if err != nil {
			t.Fatalf("type %d: %v", tc.typ, err)
		}
		if (p == nil) != tc.wantNil || name != tc.wantName {
			t.Fatalf("type %d: provider nil=%v name=%q", tc.typ, p == nil, name)
		}
	}
}

func TestMapStorageAndOpsDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("nil storage = (%v, %v)", enabled, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "./x.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite = (%+v, %v, %v)", sc, enabled, err)
	}

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	if oc.ReadTimeout != 10*time.Second || oc.IdleTimeout != time.Minute || oc.WriteTimeout != 0 {
		t.Fatalf("ops = %+v", oc)
	}
}

func TestMapBroadcastTakesPushGroupsFromBot(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Bot.PushGroups = "黑客派,Solo"
	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if bc.PushGroups != "黑客派,Solo" {
		t.Fatalf("push groups = %q", bc.PushGroups)
	}
}

func TestMapRouterAdsAlwaysCarryIntro(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		ads   string
		intro string
		want  []string
	}{
		{"intro unset", "visit hacpai", "", []string{"visit hacpai", router.Intro}},
		{"intro unset, no ads", "", "", []string{router.Intro}},
		{"custom intro", "a#b", "hi there", []string{"a", "b", "hi there"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Bot.Ads = tt.ads
			cfg.Bot.Intro = tt.intro
			rc, err := mapRouterConfig(cfg)
			if err != nil {
				t.Fatalf("map: %v", err)
			}
			if !slices.Equal(rc.Ads, tt.want) {
				t.Fatalf("ads = %q, want %q", rc.Ads, tt.want)
			}
		})
	}
}
