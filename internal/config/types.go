package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "3s", "10m").
type Config struct {
	QQ        QQConfig        `json:"qq"`
	Bot       BotConfig       `json:"bot"`
	Turing    TuringConfig    `json:"turing,omitempty"`
	Baidu     BaiduConfig     `json:"baidu,omitempty"`
	Forum     ForumConfig     `json:"forum,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

// QQConfig describes the two OneBot v11 websocket sessions.
//
// Primary receives inbound traffic and performs every send. Shadow must be
// logged in as a second account that shares the bot's groups; it only
// observes group messages to confirm deliveries.
type QQConfig struct {
	Primary SessionConfig `json:"primary"`
	Shadow  SessionConfig `json:"shadow"`
	// AccessToken applies to both sessions unless a session sets its own.
	AccessToken   string `json:"access_token,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"` // default "10s"
	ReconnectMin  string `json:"reconnect_min,omitempty"`  // default "1s"
	ReconnectMax  string `json:"reconnect_max,omitempty"`  // default "30s"
}

type SessionConfig struct {
	URL         string `json:"url"`
	AccessToken string `json:"access_token,omitempty"`
}

type BotConfig struct {
	Name string `json:"name"`
	// Key is the admin prefix of personal messages that broadcast to every group.
	// Blank disables admin broadcasts.
	Key string `json:"key"`
	// Type selects the answer provider: 1 turing, 2 baidu, anything else none.
	Type int `json:"type"`
	// Follow is a comma separated keyword list answered with KeywordAnswer.
	Follow        string `json:"follow,omitempty"`
	KeywordAnswer string `json:"keyword_answer,omitempty"`
	// PushGroups is "*" or comma separated group name fragments.
	PushGroups string `json:"push_groups,omitempty"`
	// Ads is a #-delimited list appended to replies at random; the intro is
	// always part of the set.
	Ads string `json:"ads,omitempty"`
	// AdProbability: 0 selects the default 0.02, negative disables ads.
	AdProbability float64 `json:"ad_probability,omitempty"`
	Intro         string  `json:"intro,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	AnswerTimeout string  `json:"answer_timeout,omitempty"` // default "10s"
}

type TuringConfig struct {
	API     string `json:"api,omitempty"`
	Key     string `json:"key,omitempty"`
	Persona string `json:"persona,omitempty"`
}

type BaiduConfig struct {
	API       string `json:"api,omitempty"`
	Token     string `json:"token,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
}

type ForumConfig struct {
	Enabled bool   `json:"enabled"`
	API     string `json:"api,omitempty"`
	Key     string `json:"key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// DispatchConfig controls confirmation-driven resends.
//
// Defaults (when fields are omitted/zero):
//   - retry_max: 3
//   - retry_interval: "3s"
//   - capacity_factor: 5 (pending entries per roster group)
//   - workers: 16 (concurrent resends; waits hold no worker)
//   - queue_size: 256
type DispatchConfig struct {
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryInterval  string `json:"retry_interval,omitempty"`
	CapacityFactor int    `json:"capacity_factor,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
}

type BroadcastConfig struct {
	Interval  string `json:"interval,omitempty"` // pause after each send, default "3s"
	QueueSize int    `json:"queue_size,omitempty"`
	StatusMax int    `json:"status_max,omitempty"`
	StatusTTL string `json:"status_ttl,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// RosterRefresh is a schedule string (cron, "@every 10m", "10m"); "off" disables it.
	RosterRefresh string       `json:"roster_refresh,omitempty"`
	Pushes        []PushConfig `json:"pushes,omitempty"`
}

type PushConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Text    string `json:"text"`
	Targets string `json:"targets,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Admin   LoggingAdmin `json:"admin,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAdmin forwards warn+ log lines to an operator QQ account through the
// primary session.
type LoggingAdmin struct {
	Enabled    bool   `json:"enabled"`
	UserID     int64  `json:"user_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/xiaov.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OpsConfig controls the optional ops HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
