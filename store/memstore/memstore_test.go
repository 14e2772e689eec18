package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ward-backend/models"
	"ward-backend/store"
)

func seedRoom(t *testing.T, s *Store, number string, floor int) *models.Room {
	t.Helper()
	room := &models.Room{RoomNumber: number, Floor: floor}
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateRoom(room)
	}))
	return room
}

func TestInTx_CommitsOnNil(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "101", got.RoomNumber)
	assert.False(t, got.Occupied)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		if err := tx.SetOccupied(room.ID, true); err != nil {
			return err
		}
		p := &models.Patient{Name: "A", RoomID: &room.ID}
		if err := tx.CreatePatient(p); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, got.Occupied)
	_, patients, err := s.OccupancySnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patients)
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)

	assert.Panics(t, func() {
		_ = s.InTx(context.Background(), func(tx store.Tx) error {
			if _, err := tx.LockRoom(room.ID); err != nil {
				return err
			}
			_ = tx.SetOccupied(room.ID, true)
			panic("handler bug")
		})
	})

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, got.Occupied)

	// The lock was released.
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockRoom(room.ID)
		return err
	}))
}

func TestInTx_CancelledContextLeavesNoWrites(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetOccupied(room.ID, true); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, got.Occupied)
}

func TestLockRoom_TimesOut(t *testing.T) {
	s := New(WithLockTimeout(50 * time.Millisecond))
	room := seedRoom(t, s, "101", 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(context.Background(), func(tx store.Tx) error {
			if _, err := tx.LockRoom(room.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockRoom(room.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
}

func TestLockRoom_SerializesWriters(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(context.Background(), func(tx store.Tx) error {
				r, err := tx.LockRoom(room.ID)
				if err != nil {
					return err
				}
				if r.Occupied {
					return errors.New("taken")
				}
				return tx.SetOccupied(room.ID, true)
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestCreateRoom_Duplicate(t *testing.T) {
	s := New()
	seedRoom(t, s, "101", 1)

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateRoom(&models.Room{RoomNumber: "101", Floor: 1})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Same number on another floor is fine.
	seedRoom(t, s, "101", 2)
}

func TestDeleteRoom_Referenced(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreatePatient(&models.Patient{Name: "A", RoomID: &room.ID})
	}))

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.DeleteRoom(room.ID)
	})
	assert.ErrorIs(t, err, store.ErrReferenced)
}

func TestLockPatientInRoom(t *testing.T) {
	s := New()
	room := seedRoom(t, s, "101", 1)

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockPatientInRoom(room.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	var created models.Patient
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		created = models.Patient{Name: "A", RoomID: &room.ID}
		return tx.CreatePatient(&created)
	}))
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.LockPatientInRoom(room.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, created.ID, p.ID)
		return nil
	}))
}

func TestMedicalRecordNumberUnique(t *testing.T) {
	s := New()
	mrn := "MRN-1"
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreatePatient(&models.Patient{Name: "A", MedicalRecordNumber: &mrn})
	}))
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreatePatient(&models.Patient{Name: "B", MedicalRecordNumber: &mrn})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCommit_AssignsEventIDs(t *testing.T) {
	s := New()
	ev := &models.AllocationEvent{Kind: models.EventAdmit, Outcome: models.OutcomeCommitted}
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.AppendEvent(ev)
	}))
	assert.NotZero(t, ev.ID)
	assert.Len(t, s.Events(), 1)

	// An event staged in a rolled-back transaction is dropped.
	_ = s.InTx(context.Background(), func(tx store.Tx) error {
		_ = tx.AppendEvent(&models.AllocationEvent{Kind: models.EventCheckout})
		return errors.New("abort")
	})
	assert.Len(t, s.Events(), 1)
}

func TestAvailableRooms_Ordering(t *testing.T) {
	s := New()
	seedRoom(t, s, "201", 2)
	seedRoom(t, s, "102", 1)
	seedRoom(t, s, "101", 1)

	rooms, err := s.AvailableRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, "101", rooms[0].RoomNumber)
	assert.Equal(t, "102", rooms[1].RoomNumber)
	assert.Equal(t, "201", rooms[2].RoomNumber)
}
