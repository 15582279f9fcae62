package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisHistory shares reading history between server instances. Each
// reading lives under its own key with a TTL; a per-sensor sorted set
// indexes them by timestamp for recency queries.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHistory(addr, password string, db int, ttl time.Duration) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "connect to redis")
	}
	return &RedisHistory{client: client, ttl: ttl}, nil
}

// StoreReading writes the reading and indexes it in one pipeline.
func (r *RedisHistory) StoreReading(ctx context.Context, sensorID string, reading entities.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return errors.Wrap(err, "marshal reading")
	}

	key := fmt.Sprintf("reading:%s:%d", sensorID, int64(reading.Timestamp))
	indexKey := fmt.Sprintf("readings:%s", sensorID)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, payload, r.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: reading.Timestamp, Member: key})
	pipe.Expire(ctx, indexKey, r.ttl)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "store reading")
}

// RecentReadings returns up to limit readings, newest first. Readings
// whose key already expired are skipped.
func (r *RedisHistory) RecentReadings(ctx context.Context, sensorID string, limit int) ([]entities.Reading, error) {
	indexKey := fmt.Sprintf("readings:%s", sensorID)
	keys, err := r.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read reading index")
	}

	readings := make([]entities.Reading, 0, len(keys))
	for _, key := range keys {
		payload, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "read reading")
		}
		var reading entities.Reading
		if err := json.Unmarshal(payload, &reading); err != nil {
			return nil, errors.Wrap(err, "unmarshal reading")
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

func (r *RedisHistory) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisHistory) Close() error {
	return r.client.Close()
}
