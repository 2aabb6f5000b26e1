package broadcast

import (
	"sort"
	"time"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// pruneStatus keeps job bookkeeping bounded: finished jobs expire after the
// TTL, then the oldest non-running jobs go until the map fits StatusMax.
func (s *Service) pruneStatus(now time.Time) {
	cfg := s.config()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		ref := st.DoneAt
		if ref.IsZero() {
			if st.Running {
				continue
			}
			ref = st.CreatedAt
		}
		if now.Sub(ref) > cfg.StatusTTL {
			delete(s.status, id)
		}
	}

	over := len(s.status) - cfg.StatusMax
	if over < 0 {
		return
	}
	// make room for the job about to be added.
	over++

	type cand struct {
		id string
		at time.Time
	}
	cands := make([]cand, 0, len(s.status))
	for id, st := range s.status {
		if st.Running {
			continue
		}
		at := st.DoneAt
		if at.IsZero() {
			at = st.CreatedAt
		}
		cands = append(cands, cand{id: id, at: at})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].at.Before(cands[j].at) })
	for i := 0; i < len(cands) && over > 0; i++ {
		delete(s.status, cands[i].id)
		over--
	}
}
