package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ward-backend/models"
)

const (
	availableRoomsKey = "ward:rooms:available"
	generationKey     = "ward:rooms:generation"
)

// RoomCache caches the available-rooms listing. It is advisory: the
// coordinator never reads it, and writes invalidate it after commit.
//
// Every Invalidate bumps a generation. A listing read from the store is
// only stored if the generation is still the one taken before the read.
type RoomCache interface {
	GetAvailable(ctx context.Context) ([]models.Room, bool, error)
	Generation(ctx context.Context) (int64, error)
	SetAvailable(ctx context.Context, gen int64, rooms []models.Room) error
	Invalidate(ctx context.Context) error
}

type RedisRoomCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRoomCache(rdb *redis.Client, ttl time.Duration) *RedisRoomCache {
	return &RedisRoomCache{rdb: rdb, ttl: ttl}
}

func (c *RedisRoomCache) GetAvailable(ctx context.Context) ([]models.Room, bool, error) {
	raw, err := c.rdb.Get(ctx, availableRoomsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rooms []models.Room
	if err := json.Unmarshal(raw, &rooms); err != nil {
		return nil, false, err
	}
	return rooms, true, nil
}

func (c *RedisRoomCache) Generation(ctx context.Context) (int64, error) {
	return generation(ctx, c.rdb)
}

func generation(ctx context.Context, cmd redis.Cmdable) (int64, error) {
	gen, err := cmd.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetAvailable stores rooms unless an Invalidate has run since gen was read.
// A skipped write is not an error.
func (c *RedisRoomCache) SetAvailable(ctx context.Context, gen int64, rooms []models.Room) error {
	if rooms == nil {
		rooms = []models.Room{}
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		return err
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, availableRoomsKey, data, c.ttl)
			return nil
		})
		return err
	}, generationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisRoomCache) Invalidate(ctx context.Context) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey)
		pipe.Del(ctx, availableRoomsKey)
		return nil
	})
	return err
}

// NoopRoomCache is used when REDIS_ADDR is unset.
type NoopRoomCache struct{}

func (NoopRoomCache) GetAvailable(context.Context) ([]models.Room, bool, error) {
	return nil, false, nil
}
func (NoopRoomCache) Generation(context.Context) (int64, error)                { return 0, nil }
func (NoopRoomCache) SetAvailable(context.Context, int64, []models.Room) error { return nil }
func (NoopRoomCache) Invalidate(context.Context) error                         { return nil }
