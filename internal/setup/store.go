package setup

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Session is the live state of one owner's setup conversation.
type Session struct {
	OwnerID     string
	OwnerName   string
	GuildID     string
	GuildName   string
	Origin      ChannelHandle
	SideChannel ChannelHandle
	CreatedAt   time.Time

	suggestedPass  string
	defaultChannel ChannelHandle // zero when the origin is not a text channel

	// mu serializes message handling and guards pending.
	mu      sync.Mutex
	pending InputBuilder

	step      atomic.Int32
	expiresAt atomic.Int64 // unix nanos
}

// Step returns the session's current step.
func (s *Session) Step() StepKind { return StepKind(s.step.Load()) }

// ExpiresAt returns when the session becomes eligible for reclamation.
func (s *Session) ExpiresAt() time.Time { return time.Unix(0, s.expiresAt.Load()).UTC() }

func (s *Session) touch(now time.Time, ttl time.Duration) {
	s.expiresAt.Store(now.Add(ttl).UnixNano())
}

func (s *Session) expired(now time.Time) bool {
	return now.UnixNano() > s.expiresAt.Load()
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	OwnerID     string    `json:"owner_id"`
	OwnerName   string    `json:"owner_name"`
	GuildID     string    `json:"guild_id"`
	GuildName   string    `json:"guild_name"`
	SideChannel string    `json:"side_channel"`
	Step        string    `json:"step"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Snapshot copies the public state of the session.
func (s *Session) Snapshot() SessionInfo {
	return SessionInfo{
		OwnerID:     s.OwnerID,
		OwnerName:   s.OwnerName,
		GuildID:     s.GuildID,
		GuildName:   s.GuildName,
		SideChannel: s.SideChannel.ID,
		Step:        s.Step().String(),
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt(),
	}
}

// Store maps owner IDs to their active session. It is safe for concurrent
// use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Insert stores s unless its owner already has a session.
func (st *Store) Insert(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[s.OwnerID]; ok {
		return false
	}
	st.sessions[s.OwnerID] = s
	return true
}

// Get returns the owner's session, or nil.
func (st *Store) Get(ownerID string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[ownerID]
}

// Has reports whether the owner has a session.
func (st *Store) Has(ownerID string) bool {
	return st.Get(ownerID) != nil
}

// Remove deletes s if it is still the owner's stored session. It reports
// whether this call removed it.
func (st *Store) Remove(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[s.OwnerID]; !ok || cur != s {
		return false
	}
	delete(st.sessions, s.OwnerID)
	return true
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Expired returns the sessions whose expiry is before now.
func (st *Store) Expired(now time.Time) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Session
	for _, s := range st.sessions {
		if s.expired(now) {
			out = append(out, s)
		}
	}
	return out
}

// All returns every stored session ordered by creation time.
func (st *Store) All() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
