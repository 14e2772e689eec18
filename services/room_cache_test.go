package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ward-backend/models"
	"ward-backend/store"
	"ward-backend/store/memstore"
)

func newRedisCache(t *testing.T) (*RedisRoomCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRoomCache(rdb, time.Minute), mr
}

func TestRedisRoomCache_RoundTrip(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok, err := cache.GetAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetAvailable(ctx, 0, []models.Room{{ID: 1, RoomNumber: "101", Floor: 1}}))
	assert.True(t, mr.Exists(availableRoomsKey))
	assert.Equal(t, time.Minute, mr.TTL(availableRoomsKey))

	rooms, ok, err := cache.GetAvailable(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	assert.Equal(t, "101", rooms[0].RoomNumber)

	require.NoError(t, cache.Invalidate(ctx))
	assert.False(t, mr.Exists(availableRoomsKey))
	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestRedisRoomCache_StaleGenerationSkipsWrite(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))

	require.NoError(t, cache.SetAvailable(ctx, gen, []models.Room{{ID: 1, RoomNumber: "101"}}))
	assert.False(t, mr.Exists(availableRoomsKey))

	gen, err = cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.SetAvailable(ctx, gen, []models.Room{{ID: 1, RoomNumber: "101"}}))
	assert.True(t, mr.Exists(availableRoomsKey))
}

func TestRedisRoomCache_EmptyListIsCached(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, 0, nil))
	rooms, ok, err := cache.GetAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rooms)
}

func TestLedger_CacheInvalidatedByAllocation(t *testing.T) {
	cache, mr := newRedisCache(t)
	st := memstore.New()
	ledger := NewRoomLedger(LedgerOptions{Store: st, Cache: cache, Logger: zap.NewNop()})
	coord := NewCoordinator(CoordinatorOptions{Store: st, Ledger: ledger})
	ctx := context.Background()

	room, err := ledger.CreateRoom(ctx, admin, "101", 1)
	require.NoError(t, err)

	rooms, err := ledger.AvailableRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.True(t, mr.Exists(availableRoomsKey))

	_, err = coord.Admit(ctx, doctor, AdmitRequest{Patient: newPatient("Layla"), RoomID: room.ID})
	require.NoError(t, err)
	assert.False(t, mr.Exists(availableRoomsKey))

	rooms, err = ledger.AvailableRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestLedger_CacheFailureFallsBackToStore(t *testing.T) {
	cache, mr := newRedisCache(t)
	st := memstore.New()
	ledger := NewRoomLedger(LedgerOptions{Store: st, Cache: cache})
	ctx := context.Background()

	_, err := ledger.CreateRoom(ctx, admin, "101", 1)
	require.NoError(t, err)
	mr.Close()

	rooms, err := ledger.AvailableRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

// pausingStore holds the first AvailableRooms call after the store read
// until release is closed.
type pausingStore struct {
	store.Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) AvailableRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.Store.AvailableRooms(ctx)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return rooms, err
}

func TestLedger_AdmitDuringListingIsNotCachedStale(t *testing.T) {
	cache, _ := newRedisCache(t)
	st := memstore.New()
	paused := &pausingStore{Store: st, read: make(chan struct{}), release: make(chan struct{})}
	ledger := NewRoomLedger(LedgerOptions{Store: paused, Cache: cache, Logger: zap.NewNop()})
	coord := NewCoordinator(CoordinatorOptions{Store: st, Ledger: ledger})
	ctx := context.Background()

	room, err := ledger.CreateRoom(ctx, admin, "101", 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ledger.AvailableRooms(ctx)
		done <- err
	}()
	<-paused.read

	_, err = coord.Admit(ctx, doctor, AdmitRequest{Patient: newPatient("Layla"), RoomID: room.ID})
	require.NoError(t, err)
	close(paused.release)
	require.NoError(t, <-done)

	rooms, err := ledger.AvailableRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms, "occupied room still listed as available")

	r, err := st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, r.Occupied)
}
