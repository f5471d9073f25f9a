package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

// RedisStore keeps one JSON value per session under prefix+id. Keys expire
// after ttl unless touched, so sessions orphaned by a crash age out.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Save(ctx context.Context, md Metadata) error {
	if md.ID == "" {
		return errors.New("sessionstore: empty session id")
	}
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(md.ID), b, r.ttl).Err()
}

// Touch updates LastActivity and renews the TTL. A key that already expired
// while the stream stayed open is written again.
func (r *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return domain.ErrSessionNotFound
	}
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		logging.Debug("session key expired, saving again", "session_id", id)
		return r.Save(ctx, Metadata{ID: id, CreatedAt: at, LastActivity: at})
	}
	if err != nil {
		return err
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return fmt.Errorf("sessionstore: decode %s: %w", id, err)
	}
	md.LastActivity = at
	return r.Save(ctx, md)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisStore) keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (r *RedisStore) List(ctx context.Context) ([]Metadata, error) {
	keys, err := r.keys(ctx)
	if err != nil || len(keys) == 0 {
		return []Metadata{}, err
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var md Metadata
		if err := json.Unmarshal([]byte(s), &md); err != nil {
			logging.Warn("skipping undecodable session entry", "error", err)
			continue
		}
		out = append(out, md)
	}
	sortByCreated(out)
	return out, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	return len(keys), err
}

func (r *RedisStore) Close() error { return r.client.Close() }

// New picks Redis when cache.redis_host is set and answers a ping within a
// second. Anything else falls back to the in-process store.
func New(cfg config.Config) Store {
	if cfg.Cache.RedisHost == "" {
		return NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.SessionDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn("redis unavailable, using in-memory session store", "addr", cfg.Cache.RedisHost, "error", err)
		_ = client.Close()
		return NewMemoryStore()
	}
	logging.Info("session store connected to redis", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.SessionDB)
	return NewRedisStore(client, cfg.Cache.SessionPrefix, cfg.SessionTimeout())
}
