package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richinex/scout/research"
)

const defaultRedisPrefix = "scout:"

// RedisStore keeps snapshots as JSON strings with a sorted-set index by
// update time. Useful when several workers share finished runs.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. The store owns the client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

// WithPrefix sets the key prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

// WithTTL expires snapshots after ttl. Zero keeps them forever.
func (s *RedisStore) WithTTL(ttl time.Duration) *RedisStore {
	s.ttl = ttl
	return s
}

func (s *RedisStore) snapshotKey(id string) string { return s.prefix + "snapshot:" + id }
func (s *RedisStore) infoKey(id string) string     { return s.prefix + "info:" + id }
func (s *RedisStore) indexKey() string             { return s.prefix + "snapshots" }

// Save implements SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, snap *research.Snapshot) error {
	body, err := research.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	info := infoOf(snap)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapshotKey(snap.ResearchID), body, s.ttl)
		pipe.HSet(ctx, s.infoKey(snap.ResearchID),
			"blocks", info.Blocks,
			"completed", info.Completed,
			"tool_calls", info.ToolCalls,
			"updated_at", snap.UpdatedAt.UnixNano(),
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.infoKey(snap.ResearchID), s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(snap.UpdatedAt.UnixMilli()),
			Member: snap.ResearchID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *RedisStore) Load(ctx context.Context, researchID string) (*research.Snapshot, error) {
	body, err := s.client.Get(ctx, s.snapshotKey(researchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", researchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return research.UnmarshalSnapshot(body)
}

// List implements SnapshotStore. Index entries whose snapshot expired are pruned.
func (s *RedisStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot index: %w", err)
	}

	infos := []SnapshotInfo{}
	for _, id := range ids {
		var raw struct {
			Blocks    int   `redis:"blocks"`
			Completed int   `redis:"completed"`
			ToolCalls int   `redis:"tool_calls"`
			UpdatedAt int64 `redis:"updated_at"`
		}
		res := s.client.HGetAll(ctx, s.infoKey(id))
		if err := res.Err(); err != nil {
			return nil, fmt.Errorf("failed to read snapshot info: %w", err)
		}
		if len(res.Val()) == 0 {
			_ = s.client.ZRem(ctx, s.indexKey(), id).Err()
			continue
		}
		if err := res.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot info: %w", err)
		}
		infos = append(infos, SnapshotInfo{
			ResearchID: id,
			Blocks:     raw.Blocks,
			Completed:  raw.Completed,
			ToolCalls:  raw.ToolCalls,
			UpdatedAt:  time.Unix(0, raw.UpdatedAt).UTC(),
		})
	}
	return infos, nil
}

// Delete implements SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, researchID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.snapshotKey(researchID), s.infoKey(researchID))
		pipe.ZRem(ctx, s.indexKey(), researchID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close implements SnapshotStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ SnapshotStore = (*RedisStore)(nil)
