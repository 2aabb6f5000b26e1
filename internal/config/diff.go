package config

import (
	"reflect"
	"strings"

	logx "xiaov/pkg/logx"
)

// RestartSections are applied only at startup; a change is logged as a warning.
var RestartSections = map[string]bool{
	"qq":       true,
	"dispatch": true,
	"forum":    true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed section names and safe structured
// attrs for logging. Tokens and keys are never included; only whether they
// are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.QQ, newCfg.QQ) {
		changed = append(changed, "qq")
		attrs = append(attrs,
			logx.String("qq.primary", strings.TrimSpace(newCfg.QQ.Primary.URL)),
			logx.String("qq.shadow", strings.TrimSpace(newCfg.QQ.Shadow.URL)),
			logx.Bool("qq.token_set", tokenSet(newCfg.QQ)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.String("bot.name", newCfg.Bot.Name),
			logx.Bool("bot.key_set", newCfg.Bot.Key != ""),
			logx.Int("bot.type", newCfg.Bot.Type),
			logx.Int("bot.keywords", countList(newCfg.Bot.Follow)),
			logx.Int("bot.ads", countList(newCfg.Bot.Ads)),
			logx.String("bot.push_groups", newCfg.Bot.PushGroups),
		)
	}

	if oldCfg.Turing != newCfg.Turing || oldCfg.Baidu != newCfg.Baidu {
		changed = append(changed, "answer")
		attrs = append(attrs,
			logx.Bool("turing.key_set", newCfg.Turing.Key != ""),
			logx.Bool("baidu.token_set", newCfg.Baidu.Token != ""),
		)
	}

	if oldCfg.Forum != newCfg.Forum {
		changed = append(changed, "forum")
		attrs = append(attrs,
			logx.Bool("forum.enabled", newCfg.Forum.Enabled),
			logx.String("forum.api", strings.TrimSpace(newCfg.Forum.API)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
			logx.String("dispatch.retry_interval", strings.TrimSpace(newCfg.Dispatch.RetryInterval)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.String("broadcast.interval", strings.TrimSpace(newCfg.Broadcast.Interval)))
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.pushes", len(newCfg.Scheduler.Pushes)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.admin_enabled", newCfg.Logging.Admin.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	return changed, attrs
}

func tokenSet(q QQConfig) bool {
	return q.AccessToken != "" || q.Primary.AccessToken != "" || q.Shadow.AccessToken != ""
}

func countList(s string) int {
	n := 0
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}
