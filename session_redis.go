package recommend

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/memory"
)

const defaultRedisSessionTTL = 24 * time.Hour

//go:embed scripts/save_session.lua
var saveSessionScript string

//go:embed scripts/delete_session.lua
var deleteSessionScript string

//go:embed scripts/clean_sessions.lua
var cleanSessionsScript string

// RedisSessionStore persists sessions in Redis.
// Data model:
//   - key prefix+"session:"+id => JSON(redisRecord) with TTL
//   - key prefix+"idx" => sorted set of ids scored by last update (unix ms)
type RedisSessionStore struct {
	sessionLocks

	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	maxHistory  int
	maxSessions int

	save   *redis.Script
	remove *redis.Script
	clean  *redis.Script
}

type redisRecord struct {
	ID        string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	State     memory.Snapshot `json:"state"`
}

func NewRedisSessionStore(ctx context.Context, cfg config.SessionConfig, maxHistory int) (*RedisSessionStore, error) {
	if cfg.Redis.Address == "" {
		return nil, errors.New("redis session store: address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis session store: ping %s: %w", cfg.Redis.Address, err)
	}
	return newRedisSessionStore(rdb, cfg, maxHistory), nil
}

func newRedisSessionStore(rdb *redis.Client, cfg config.SessionConfig, maxHistory int) *RedisSessionStore {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultRedisSessionTTL
	}
	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = "recommend:"
	}
	return &RedisSessionStore{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		maxHistory:  maxHistory,
		maxSessions: cfg.MaxSessions,
		save:        redis.NewScript(saveSessionScript),
		remove:      redis.NewScript(deleteSessionScript),
		clean:       redis.NewScript(cleanSessionsScript),
	}
}

func (s *RedisSessionStore) idxKey() string           { return s.prefix + "idx" }
func (s *RedisSessionStore) sessPrefix() string       { return s.prefix + "session:" }
func (s *RedisSessionStore) sessKey(id string) string { return s.sessPrefix() + id }

func (s *RedisSessionStore) Create(ctx context.Context) (*Session, error) {
	sess := &Session{ID: newID(), CreatedAt: time.Now(), Context: memory.NewContext(s.maxHistory)}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	if s.maxSessions > 0 {
		if err := s.Clean(ctx, s.maxSessions); err != nil {
			logger.Warnf("redis session store: clean failed: %v", err)
		}
	}
	return sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("save session: missing id")
	}
	snap := sess.Context.Snapshot()
	b, err := json.Marshal(redisRecord{ID: sess.ID, CreatedAt: sess.CreatedAt, State: snap})
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	keys := []string{s.sessKey(sess.ID), s.idxKey()}
	args := []interface{}{string(b), int64(s.ttl / time.Second), snap.UpdatedAt.UnixMilli(), sess.ID}
	if err := s.save.Run(ctx, s.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.sessKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired keys leave their index entry behind
		s.rdb.ZRem(ctx, s.idxKey(), id)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &Session{ID: id, CreatedAt: rec.CreatedAt, Context: memory.Restore(rec.State, s.maxHistory)}, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.remove.Run(ctx, s.rdb, []string{s.sessKey(id), s.idxKey()}, id).Int64()
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisSessionStore) ListRange(ctx context.Context, offset, limit int) ([]*Session, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []*Session{}, nil
	}
	ids, err := s.rdb.ZRevRange(ctx, s.idxKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisSessionStore) Clean(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	removed, err := s.clean.Run(ctx, s.rdb, []string{s.idxKey()}, s.sessPrefix(), max).Int64()
	if err != nil {
		return fmt.Errorf("clean sessions: %w", err)
	}
	if removed > 0 {
		logger.Infof("redis session store: removed %d sessions beyond %d", removed, max)
	}
	return nil
}

func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}
