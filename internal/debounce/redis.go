package debounce

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps debounce records in Redis so admission state survives a
// single process restart in multi-replica deployments. Per-device atomicity
// is still provided by the Gate's device locks; Redis is only the record of
// truth.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(deviceID string) string {
	return fmt.Sprintf("debounce:device:%s", deviceID)
}

// Get returns the device's record, or nil if unregistered.
func (s *RedisStore) Get(ctx context.Context, deviceID string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode debounce record: %w", err)
	}
	return &record, nil
}

// Put stores the record with no expiry; records live until deregistration.
func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode debounce record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(record.DeviceID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes the device's record.
func (s *RedisStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, recordKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
