package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryRepo mirrors PGRepository semantics; one mutex stands in for the
// per-user advisory lock.
type memoryRepo struct {
	mu       sync.Mutex
	rows     map[string]Session
	limits   map[int64]int
	maxLive  map[int64]int
	onCreate func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]Session), limits: make(map[int64]int), maxLive: make(map[int64]int)}
}

func (r *memoryRepo) liveLocked(userID int64, now time.Time) []Session {
	var out []Session
	for _, s := range r.rows {
		if s.UserID == userID && s.Live(now) {
			out = append(out, s)
		}
	}
	return out
}

func (r *memoryRepo) CreateWithLimit(_ context.Context, s Session, defaultLimit int) ([]Session, error) {
	if r.onCreate != nil {
		r.onCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := defaultLimit
	if l, ok := r.limits[s.UserID]; ok {
		limit = l
	}
	if limit < 1 {
		limit = 1
	}
	live := r.liveLocked(s.UserID, s.CreatedAt)
	sort.Slice(live, func(i, j int) bool {
		if !live[i].LastActivity.Equal(live[j].LastActivity) {
			return live[i].LastActivity.Before(live[j].LastActivity)
		}
		return live[i].ID < live[j].ID
	})
	var evicted []Session
	for i := 0; len(live)-i >= limit; i++ {
		e := live[i]
		e.IsActive = false
		r.rows[e.ID] = e
		evicted = append(evicted, e)
	}
	r.rows[s.ID] = s
	if n := len(r.liveLocked(s.UserID, s.CreatedAt)); n > r.maxLive[s.UserID] {
		r.maxLive[s.UserID] = n
	}
	return evicted, nil
}

func (r *memoryRepo) Touch(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !s.Live(now) {
		return false, nil
	}
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	r.rows[id] = s
	return true, nil
}

func (r *memoryRepo) FindLive(_ context.Context, id string, now time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !s.Live(now) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *memoryRepo) FindLiveByRefreshHash(_ context.Context, hash string, now time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.RefreshTokenHash == hash && s.Live(now) {
			return s, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (r *memoryRepo) RotateRefreshHash(_ context.Context, id, oldHash, newHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.RefreshTokenHash != oldHash || !s.Live(now) {
		return false, nil
	}
	s.RefreshTokenHash = newHash
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	r.rows[id] = s
	return true, nil
}

func (r *memoryRepo) ListLive(_ context.Context, userID int64, now time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.liveLocked(userID, now)
	sort.Slice(live, func(i, j int) bool {
		if !live[i].LastActivity.Equal(live[j].LastActivity) {
			return live[i].LastActivity.After(live[j].LastActivity)
		}
		return live[i].ID < live[j].ID
	})
	return live, nil
}

func (r *memoryRepo) Deactivate(_ context.Context, userID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.UserID != userID || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	r.rows[id] = s
	return true, nil
}

func (r *memoryRepo) DeactivateOthers(_ context.Context, userID int64, keepID string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, s := range r.liveLocked(userID, now) {
		if s.ID == keepID {
			continue
		}
		s.IsActive = false
		r.rows[s.ID] = s
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepo) DeactivateAll(_ context.Context, userID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.rows {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			r.rows[id] = s
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepo) Sweep(_ context.Context, now time.Time, retention time.Duration) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res SweepResult
	cutoff := now.Add(-retention)
	for id, s := range r.rows {
		switch {
		case s.ExpiresAt.Before(now):
			delete(r.rows, id)
			res.Expired++
		case !s.IsActive && s.LastActivity.Before(cutoff):
			delete(r.rows, id)
			res.Inactive++
		}
	}
	return res, nil
}

func (r *memoryRepo) GetLimit(_ context.Context, userID int64) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limits[userID]
	return l, ok, nil
}

func (r *memoryRepo) UpsertLimit(_ context.Context, userID int64, maxSessions int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.limits[userID]
	r.limits[userID] = maxSessions
	return prev, ok, nil
}

func (r *memoryRepo) get(id string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memoryRepo) put(s Session) {
	r.mu.Lock()
	r.rows[s.ID] = s
	r.mu.Unlock()
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
