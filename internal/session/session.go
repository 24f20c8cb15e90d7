// Package session holds the short-lived per-user state of a bot dialogue.
//
// A Session is a small serializable value, never an object graph, so it can
// live in an external keyed store with a TTL. MemoryStore keeps sessions for
// the process lifetime only: a restart or a second instance loses them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"grievance-intake/internal/domain"
)

// ErrConflict is returned by Put when another writer changed the session
// since it was read.
var ErrConflict = errors.New("session: concurrent modification")

// Fields accumulates the answers gathered along a dialogue.
type Fields struct {
	CitizenID         string           `dynamodbav:"citizenId,omitempty"`
	Phone             string           `dynamodbav:"phone,omitempty"`
	DisplayName       string           `dynamodbav:"displayName,omitempty"`
	Location          *domain.Location `dynamodbav:"location,omitempty"`
	GrievanceLocation *domain.Location `dynamodbav:"grievanceLocation,omitempty"`
	Text              string           `dynamodbav:"text,omitempty"`
}

// Session is the dialogue state for one channel user.
type Session struct {
	ChannelUserID string    `dynamodbav:"channelUserId"`
	Step          string    `dynamodbav:"step"`
	Fields        Fields    `dynamodbav:"fields"`
	Version       int64     `dynamodbav:"version"`
	CreatedAt     time.Time `dynamodbav:"createdAt"`
	ExpiresAt     int64     `dynamodbav:"ttl"`
	// ClaimedAt is set while a step commits outside the store.
	ClaimedAt int64 `dynamodbav:"claimedAt,omitempty"`
}

// Expired reports whether the session outlived its TTL at now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// Claimed reports whether a commit holds s at now. A claim older than lease
// is treated as abandoned.
func (s Session) Claimed(now time.Time, lease time.Duration) bool {
	return s.ClaimedAt > 0 && now.Before(time.Unix(s.ClaimedAt, 0).Add(lease))
}

// Store persists sessions keyed by channel user id.
type Store interface {
	// Get returns the live session for userID; ok is false when there is none
	// or it has expired.
	Get(ctx context.Context, userID string) (s Session, ok bool, err error)
	// Put is a compare-and-swap on Version. A zero Version creates the
	// session and conflicts with a live one; any other Version must match the
	// live stored session. It returns the stored value with the next Version
	// and a refreshed expiry.
	Put(ctx context.Context, s Session) (Session, error)
	// Delete removes the session if its Version still matches. Deleting a
	// missing session is not an error.
	Delete(ctx context.Context, userID string, version int64) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Session
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore whose sessions expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Session),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.items[userID]
	if !ok {
		return Session{}, false, nil
	}
	if s.Expired(m.now()) {
		delete(m.items, userID)
		return Session{}, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.items[s.ChannelUserID]
	live := ok && !cur.Expired(now)
	switch {
	case s.Version == 0 && live:
		return Session{}, ErrConflict
	case s.Version != 0 && (!live || cur.Version != s.Version):
		return Session{}, ErrConflict
	}
	s = stamp(s, now, m.ttl)
	m.items[s.ChannelUserID] = s
	return s, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.items[userID]; ok && !cur.Expired(m.now()) && cur.Version != version {
		return ErrConflict
	}
	delete(m.items, userID)
	return nil
}

// stamp bumps the version and refreshes the expiry ahead of a write.
func stamp(s Session, now time.Time, ttl time.Duration) Session {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	}
	s.Version++
	s.ExpiresAt = now.Add(ttl).Unix()
	return s
}
