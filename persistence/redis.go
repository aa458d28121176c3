package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/taskflow/types"
)

// RedisConfig configures a RedisRunStore connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisRunStore is a Redis-backed RunStore suitable for deployments where
// run history must outlive the process. Records live in string keys with a
// per-workflow sorted-set index ordered by start time.
type RedisRunStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRunStore connects to Redis and verifies the connection.
func NewRedisRunStore(cfg RedisConfig) (*RedisRunStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "taskflow:"
	}
	return &RedisRunStore{client: client, keyPrefix: prefix + "run:"}, nil
}

// NewRedisRunStoreWithClient wraps an existing client, used by tests
// against miniredis.
func NewRedisRunStoreWithClient(client *redis.Client, keyPrefix string) *RedisRunStore {
	if keyPrefix == "" {
		keyPrefix = "taskflow:"
	}
	return &RedisRunStore{client: client, keyPrefix: keyPrefix + "run:"}
}

func (s *RedisRunStore) dataKey(runID string) string {
	return s.keyPrefix + "data:" + runID
}

func (s *RedisRunStore) workflowKey(workflowID string) string {
	return s.keyPrefix + "workflow:" + workflowID
}

// Save implements RunStore.
func (s *RedisRunStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		return types.NewError(types.ErrInternalError, "run record has no ID")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(rec.ID), payload, 0)
	pipe.ZAdd(ctx, s.workflowKey(rec.WorkflowID), redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Load implements RunStore.
func (s *RedisRunStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	payload, err := s.client.Get(ctx, s.dataKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, types.NewErrorf(types.ErrInternalError, "run %q not found", runID)
	}
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// List implements RunStore.
func (s *RedisRunStore) List(ctx context.Context, workflowID string) ([]*RunRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.workflowKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			continue // index entry without data, skip
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close implements RunStore.
func (s *RedisRunStore) Close() error { return s.client.Close() }
