package recommend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/memory"
)

const (
	STORE_INMEMORY = "inmemory"
	STORE_REDIS    = "redis"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one conversation and its state.
type Session struct {
	ID        string
	CreatedAt time.Time
	Context   *memory.Context
}

// SessionStore is an abstraction for session persistence.
type SessionStore interface {
	Create(ctx context.Context) (*Session, error)
	// Get returns ErrSessionNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*Session, error)
	// Save persists the session state after a mutation.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) (bool, error)
	// ListRange returns sessions from offset with limit, most recently updated first.
	ListRange(ctx context.Context, offset, limit int) ([]*Session, error)
	// Clean keeps at most max sessions by recency.
	Clean(ctx context.Context, max int) error
	// Lock serializes turns of one session within this process.
	Lock(id string) (unlock func())
	Close() error
}

// NewSessionStore builds the store selected by cfg.Session.Store.
func NewSessionStore(ctx context.Context, cfg *config.Config) (SessionStore, error) {
	switch strings.ToLower(cfg.Session.Store) {
	case "", STORE_INMEMORY:
		return NewMemSessionStore(cfg.Session, cfg.Agent.MaxHistory), nil
	case STORE_REDIS:
		return NewRedisSessionStore(ctx, cfg.Session, cfg.Agent.MaxHistory)
	default:
		return nil, errors.New("unsupported session store: " + cfg.Session.Store)
	}
}

func newID() string { return uuid.New().String() }

// sessionLocks hands out one mutex per session id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) Lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			sl.mu.Unlock()
			l.mu.Lock()
			sl.refs--
			if sl.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

func (l *sessionLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// MemSessionStore manages sessions in memory. Sessions idle for longer than
// the TTL are dropped lazily.
type MemSessionStore struct {
	sessionLocks

	mu          sync.RWMutex
	sessions    map[string]*Session
	maxHistory  int
	maxSessions int
	ttl         time.Duration
	now         func() time.Time
}

func NewMemSessionStore(cfg config.SessionConfig, maxHistory int) *MemSessionStore {
	return &MemSessionStore{
		sessions:    make(map[string]*Session),
		maxHistory:  maxHistory,
		maxSessions: cfg.MaxSessions,
		ttl:         time.Duration(cfg.TTLSeconds) * time.Second,
		now:         time.Now,
	}
}

func (m *MemSessionStore) Create(ctx context.Context) (*Session, error) {
	s := &Session{ID: newID(), CreatedAt: m.now(), Context: memory.NewContext(m.maxHistory)}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.maxSessions > 0 {
		if err := m.Clean(ctx, m.maxSessions); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (m *MemSessionStore) expired(s *Session) bool {
	return m.ttl > 0 && m.now().Sub(s.Context.UpdatedAt()) > m.ttl
}

func (m *MemSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.expired(s) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Save re-registers s; the context is shared, so state is already current.
func (m *MemSessionStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("save session: missing id")
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return ok, nil
}

// byRecency returns live sessions, most recently updated first.
func (m *MemSessionStore) byRecency() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !m.expired(s) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ui, uj := out[i].Context.UpdatedAt(), out[j].Context.UpdatedAt()
		if !ui.Equal(uj) {
			return ui.After(uj)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemSessionStore) ListRange(ctx context.Context, offset, limit int) ([]*Session, error) {
	if offset < 0 {
		offset = 0
	}
	list := m.byRecency()
	if limit <= 0 || offset >= len(list) {
		return []*Session{}, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}

func (m *MemSessionStore) Clean(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	list := m.byRecency()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
		}
	}
	if len(list) <= max {
		return nil
	}
	for _, s := range list[max:] {
		delete(m.sessions, s.ID)
	}
	return nil
}

func (m *MemSessionStore) Close() error { return nil }
