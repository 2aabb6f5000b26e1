package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "xiaov/pkg/logx"
)

const compactEvery = 256

var errClosed = errors.New("file store closed")

// fileStore keeps everything next to cfg.Path:
//   - <prefix>.audit.jsonl  append-only audit trail
//   - <prefix>.marks.json   dedup marks snapshot
//   - <prefix>.marks.jsonl  dedup marks written since the last snapshot
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	audit   *os.File
	journal *os.File
	snapAt  string
	marks   map[string]time.Time
	pending int
}

type markLine struct {
	Key   string `json:"k"`
	Until int64  `json:"u"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	audit, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	marks := map[string]time.Time{}
	if err := readSnapshot(prefix+".marks.json", marks); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayJournal(prefix+".marks.jsonl", marks); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal replay failed", logx.Err(err))
	}
	dropExpired(marks, time.Now())

	journal, err := os.OpenFile(prefix+".marks.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("open dedup journal: %w", err)
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("marks", len(marks)))
	return &fileStore{
		log:     log,
		audit:   audit,
		journal: journal,
		snapAt:  prefix + ".marks.json",
		marks:   marks,
	}, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errClosed
	}
	_, err = s.audit.Write(append(b, '\n'))
	return err
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	b, err := json.Marshal(markLine{Key: key, Until: until.UnixMilli()})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errClosed
	}
	s.marks[key] = time.UnixMilli(until.UnixMilli())
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	s.pending++
	if s.pending >= compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.marks[key]
	if !ok || until.Before(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if s.pending > 0 {
			errs = append(errs, s.compactLocked())
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	return errors.Join(errs...)
}

// compactLocked folds the journal into the snapshot and truncates it.
func (s *fileStore) compactLocked() error {
	dropExpired(s.marks, time.Now())
	out := make(map[string]int64, len(s.marks))
	for k, v := range s.marks {
		out[k] = v.UnixMilli()
	}

	tmp := s.snapAt + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(out); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapAt); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.pending = 0
	return nil
}

func readSnapshot(path string, into map[string]time.Time) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		into[k] = time.UnixMilli(v)
	}
	return nil
}

func replayJournal(path string, into map[string]time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l markLine
		if json.Unmarshal(sc.Bytes(), &l) != nil || l.Key == "" {
			continue
		}
		into[l.Key] = time.UnixMilli(l.Until)
	}
	return sc.Err()
}

func dropExpired(m map[string]time.Time, now time.Time) {
	for k, v := range m {
		if v.Before(now) {
			delete(m, k)
		}
	}
}
