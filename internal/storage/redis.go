package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

const auditKeep = 5000

// redisStore keeps state under a key prefix:
//   - <prefix>seen     hash fingerprint -> unix milli
//   - <prefix>targets  hash id -> target JSON
//   - <prefix>audit    list of audit JSON, newest first, capped
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 4
	opts.MaxRetries = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	prefix := strings.TrimSpace(cfg.RedisPrefix)
	if prefix == "" {
		prefix = "feedwatch:"
	}
	return newRedisStore(client, prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(name string) string { return s.prefix + name }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) LoadSeen(ctx context.Context) ([]SeenEntry, error) {
	m, err := s.client.HGetAll(ctx, s.key("seen")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SeenEntry, 0, len(m))
	for fp, raw := range m {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.log.Debug("skipping malformed seen entry", logx.String("fp", fp))
			continue
		}
		out = append(out, SeenEntry{Fingerprint: fp, SeenAt: fromMilli(ms)})
	}
	return out, nil
}

// SaveSeen writes a fresh hash under a temp key and renames it over the live
// key, so a reader never sees a partial set.
func (s *redisStore) SaveSeen(ctx context.Context, entries []SeenEntry) error {
	live := s.key("seen")
	if len(entries) == 0 {
		return s.client.Del(ctx, live).Err()
	}
	tmp := live + ":tmp"
	values := make(map[string]any, len(entries))
	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		values[e.Fingerprint] = toMilli(e.SeenAt)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, tmp)
		p.HSet(ctx, tmp, values)
		p.Rename(ctx, tmp, live)
		return nil
	})
	return err
}

func (s *redisStore) LoadTargets(ctx context.Context) ([]model.Target, error) {
	m, err := s.client.HGetAll(ctx, s.key("targets")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Target, 0, len(m))
	for id, raw := range m {
		var t model.Target
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("%w: target %s: %v", ErrCorrupt, id, err)
		}
		out = append(out, t)
	}
	sortTargets(out)
	return out, nil
}

func (s *redisStore) SaveTarget(ctx context.Context, t model.Target) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("target id is required")
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key("targets"), t.ID, b).Err()
}

func (s *redisStore) DeleteTarget(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key("targets"), id).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key("audit"), b)
		p.LTrim(ctx, s.key("audit"), 0, auditKeep-1)
		return nil
	})
	return err
}
