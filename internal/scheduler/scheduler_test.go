package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"xiaov/internal/broadcast"
	"xiaov/internal/storage"
	logx "xiaov/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "0 9 * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "30 0 9 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 10m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule(): %v", err)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := Config{
		Enabled:       true,
		Timezone:      "Asia/Shanghai",
		RosterRefresh: "off",
		Pushes:        []Push{{Name: "morning", Spec: "0 9 * * *", Text: "早上好"}},
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate(valid): %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad timezone", Config{Timezone: "Mars/Olympus"}},
		{"bad refresh", Config{RosterRefresh: "sometimes"}},
		{"missing name", Config{Pushes: []Push{{Spec: "@daily", Text: "x"}}}},
		{"duplicate name", Config{Pushes: []Push{{Name: "a", Spec: "@daily", Text: "x"}, {Name: "a", Spec: "@hourly", Text: "y"}}}},
		{"missing text", Config{Pushes: []Push{{Name: "a", Spec: "@daily"}}}},
		{"bad cron", Config{Pushes: []Push{{Name: "a", Spec: "61 * * * *", Text: "x"}}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := Validate(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

type enqueued struct {
	name   string
	text   string
	target broadcast.Target
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(name, text string, target broadcast.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, enqueued{name, text, target})
	return "bc:test", nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil
}

func TestFirePushDedupsWithinMinute(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	bc := &fakeEnqueuer{}
	s := New(Config{Enabled: true}, nil, bc, st, logx.Nop())
	p := Push{Name: "morning", Spec: "0 9 * * *", Text: "早上好", Targets: "开发, 测试"}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s.firePush(ctx, p, at)
	s.firePush(ctx, p, at.Add(20*time.Second))
	if got := bc.count(); got != 1 {
		t.Fatalf("enqueued = %d within one minute, want 1", got)
	}
	s.firePush(ctx, p, at.Add(time.Minute))
	if got := bc.count(); got != 2 {
		t.Fatalf("enqueued = %d after the next minute, want 2", got)
	}

	j := bc.jobs[0]
	if j.name != storage.ActionScheduledPush || j.text != "早上好" {
		t.Fatalf("job = %+v", j)
	}
	if j.target.All || len(j.target.Names) != 2 {
		t.Fatalf("target = %+v, want two names", j.target)
	}
}

func TestFirePushBlankTargetsMeansAllGroups(t *testing.T) {
	t.Parallel()
	bc := &fakeEnqueuer{}
	s := New(Config{}, nil, bc, nil, logx.Nop())
	s.firePush(context.Background(), Push{Name: "n", Text: "hi"}, time.Now())
	if bc.count() != 1 || !bc.jobs[0].target.All {
		t.Fatalf("jobs = %+v, want one job to all groups", bc.jobs)
	}
}

func TestFirePushEnqueueFailureLeavesNoMark(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	bc := &fakeEnqueuer{err: broadcast.ErrQueueFull}
	s := New(Config{}, nil, bc, st, logx.Nop())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.firePush(context.Background(), Push{Name: "n", Text: "hi"}, at)

	if _, ok, _ := st.GetDedup(context.Background(), dedupKey("n", at)); ok {
		t.Fatal("failed enqueue was marked as fired")
	}
	bc.err = nil
	s.firePush(context.Background(), Push{Name: "n", Text: "hi"}, at)
	if bc.count() != 1 {
		t.Fatalf("retry after failure enqueued %d, want 1", bc.count())
	}
}

func TestStartRegistersEntries(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Enabled:  true,
		Timezone: "UTC",
		Pushes:   []Push{{Name: "morning", Spec: "0 9 * * *", Text: "早上好"}},
	}
	s := New(cfg, &fakeRefresher{}, &fakeEnqueuer{}, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Enabled || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %+v, want roster refresh and one push", snap.Entries)
	}
	names := map[string]bool{}
	for _, e := range snap.Entries {
		names[e.Name] = true
		if e.Next.IsZero() {
			t.Fatalf("entry %q has no next run", e.Name)
		}
	}
	if !names["roster.refresh"] || !names["push:morning"] {
		t.Fatalf("entry names = %v", names)
	}

	cfg.Enabled = false
	s.Apply(cfg)
	if got := len(s.Snapshot().Entries); got != 0 {
		t.Fatalf("entries after disable = %d, want 0", got)
	}
}

func TestRefreshRosterSkipsCanceledContext(t *testing.T) {
	t.Parallel()
	r := &fakeRefresher{}
	s := New(Config{}, r, nil, nil, logx.Nop())
	s.refreshRoster(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.refreshRoster(ctx)
	if r.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", r.calls)
	}
}

func TestKVFields(t *testing.T) {
	t.Parallel()
	if got := len(kvFields([]any{"a", 1, 2, "b", "c"})); got != 1 {
		t.Fatalf("fields = %d, want 1", got)
	}
}
