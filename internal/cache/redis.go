package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared redis instance, letting several
// processes warm-start from the same snapshots. Payloads are JSON with a
// TTL; the derived geometry is rebuilt on load since it does not travel.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client, prefix: "snapshot:", ttl: ttl}, nil
}

// NewRedisWithClient creates a Store from an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: "snapshot:", ttl: ttl}
}

func (r *Redis) key(orgID, tableID string) string {
	return r.prefix + orgID + ":" + tableID
}

func (r *Redis) Get(ctx context.Context, orgID, tableID string) (*Snapshot, error) {
	raw, err := r.client.Get(ctx, r.key(orgID, tableID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Current != nil {
		snap.Current.Reindex()
	}
	if snap.Server != nil {
		snap.Server.Reindex()
	}
	return &snap, nil
}

func (r *Redis) Set(ctx context.Context, orgID, tableID string, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(orgID, tableID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, orgID, tableID string) error {
	if err := r.client.Del(ctx, r.key(orgID, tableID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
