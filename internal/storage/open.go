package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "xiaov/pkg/logx"
)

// Store is the minimal persistence API used by the bot.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Audit appends e if st is non-nil and logs failures. Callers use it for
// best-effort audit trails that must never block delivery.
func Audit(ctx context.Context, st Store, log logx.Logger, e AuditEntry) {
	if st == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
