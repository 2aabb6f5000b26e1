package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "xiaov/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAuditAppends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "xiaov.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	Audit(ctx, st, logx.Nop(), AuditEntry{Action: ActionAdminBroadcast, ActorID: 42, Text: "hi", OK: 2})
	Audit(ctx, st, logx.Nop(), AuditEntry{Action: ActionPush, Target: "*", Fail: 1, Error: "boom"})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "xiaov.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("audit lines = %d, want 2", len(got))
	}
	if got[0].Action != ActionAdminBroadcast || got[0].ActorID != 42 || got[0].At.IsZero() {
		t.Fatalf("first entry = %+v", got[0])
	}
	if got[1].Error != "boom" || got[1].Fail != 1 {
		t.Fatalf("second entry = %+v", got[1])
	}
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "push:morning", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.PutDedup(ctx, "push:expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, ok, err := st.GetDedup(ctx, "push:morning")
	if err != nil || !ok {
		t.Fatalf("GetDedup = (%v, %v, %v), want hit", got, ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
	if _, ok, _ := st.GetDedup(ctx, "push:expired"); ok {
		t.Fatal("expired mark survived reopen")
	}
}

func TestAuditNilStoreIsNoop(t *testing.T) {
	t.Parallel()
	Audit(context.Background(), nil, logx.Nop(), AuditEntry{Action: ActionPush})
}
