package services

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// ChatContext is the instruction/results pair cached when a consultation starts.
type ChatContext struct {
	Instruction string    `json:"instruction"`
	Results     string    `json:"results"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionStore keeps short-lived chat context per client session token.
// Concurrent writes to one token are last-writer-wins.
type SessionStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		cache: gocache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// NewToken returns a fresh session token.
func (s *SessionStore) NewToken() string {
	return uuid.NewString()
}

// TTL is how long an entry lives after its last write.
func (s *SessionStore) TTL() time.Duration { return s.ttl }

func (s *SessionStore) Put(token string, cc ChatContext) {
	if token == "" {
		return
	}
	if cc.UpdatedAt.IsZero() {
		cc.UpdatedAt = time.Now().UTC()
	}
	s.cache.Set(token, cc, gocache.DefaultExpiration)
}

func (s *SessionStore) Get(token string) (ChatContext, bool) {
	if token == "" {
		return ChatContext{}, false
	}
	v, ok := s.cache.Get(token)
	if !ok {
		return ChatContext{}, false
	}
	cc, ok := v.(ChatContext)
	return cc, ok
}

func (s *SessionStore) Delete(token string) {
	s.cache.Delete(token)
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}
