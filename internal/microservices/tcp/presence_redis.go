package tcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// Session is the presence record of an authenticated connection.
type Session struct {
	SessionID       string    `json:"session_id"`
	Address         string    `json:"address"`
	UserID          string    `json:"user_id"`
	Username        string    `json:"username"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// SessionStore publishes which users are online and from where.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*Session, error)
}

type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisSessionStore stores sessions as hashes expiring after ttl, so a
// crashed server does not leave users online forever.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	if r == nil || r.client == nil {
		// no-op when presence is disabled
		return nil
	}
	key := sessionKeyPrefix + s.SessionID

	fields := map[string]any{
		"session_id":       s.SessionID,
		"address":          s.Address,
		"user_id":          s.UserID,
		"username":         s.Username,
		"authenticated_at": s.AuthenticatedAt.Format(time.RFC3339Nano),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.SessionID, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

func (r *RedisSessionStore) List(ctx context.Context) ([]*Session, error) {
	if r == nil || r.client == nil {
		return []*Session{}, nil
	}

	var sessions []*Session
	var cursor uint64
	for {
		// SCAN returns keys in batches without blocking
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		for _, key := range keys {
			fields, err := r.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				// expired between SCAN and HGETALL
				continue
			}
			s := &Session{
				SessionID: fields["session_id"],
				Address:   fields["address"],
				UserID:    fields["user_id"],
				Username:  fields["username"],
			}
			if s.SessionID == "" {
				s.SessionID = strings.TrimPrefix(key, sessionKeyPrefix)
			}
			if ts, ok := fields["authenticated_at"]; ok {
				s.AuthenticatedAt, _ = time.Parse(time.RFC3339Nano, ts)
			}
			sessions = append(sessions, s)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

func (r *RedisSessionStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
