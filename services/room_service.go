package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ward-backend/models"
	"ward-backend/store"
)

// RoomLedger is the authoritative record of each room's occupied flag.
type RoomLedger struct {
	store  store.Store
	cache  RoomCache
	policy Policy
	log    *zap.Logger
}

type LedgerOptions struct {
	Store  store.Store
	Cache  RoomCache
	Policy Policy
	Logger *zap.Logger
}

func NewRoomLedger(opts LedgerOptions) *RoomLedger {
	l := &RoomLedger{store: opts.Store, cache: opts.Cache, policy: opts.Policy, log: opts.Logger}
	if l.cache == nil {
		l.cache = NoopRoomCache{}
	}
	if l.policy.rules == nil {
		l.policy = DefaultPolicy()
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// AvailableRooms lists unoccupied rooms by floor then room number. An empty
// result is not an error.
func (l *RoomLedger) AvailableRooms(ctx context.Context) ([]models.Room, error) {
	if rooms, ok, err := l.cache.GetAvailable(ctx); err != nil {
		l.log.Warn("room cache read failed", zap.Error(err))
	} else if ok {
		return rooms, nil
	}
	gen, genErr := l.cache.Generation(ctx)
	if genErr != nil {
		l.log.Warn("room cache read failed", zap.Error(genErr))
	}
	rooms, err := l.store.AvailableRooms(ctx)
	if err != nil {
		return nil, classify(opRead, err, KindNotFound, KindInternal)
	}
	if genErr != nil {
		return rooms, nil
	}
	if err := l.cache.SetAvailable(ctx, gen, rooms); err != nil {
		l.log.Warn("room cache write failed", zap.Error(err))
	}
	return rooms, nil
}

// ListRooms returns every room with its current occupant.
func (l *RoomLedger) ListRooms(ctx context.Context) ([]models.RoomOccupancy, error) {
	rooms, patients, err := l.store.OccupancySnapshot(ctx)
	if err != nil {
		return nil, classify(opRead, err, KindNotFound, KindInternal)
	}
	byRoom := make(map[uint]models.Patient, len(patients))
	for _, p := range patients {
		if p.RoomID == nil {
			continue
		}
		if _, seen := byRoom[*p.RoomID]; !seen {
			byRoom[*p.RoomID] = p
		}
	}
	out := make([]models.RoomOccupancy, 0, len(rooms))
	for _, r := range rooms {
		view := models.RoomOccupancy{Room: r}
		if p, ok := byRoom[r.ID]; ok {
			id := p.ID
			view.PatientID = &id
			view.PatientName = p.Name
			view.DoctorName = p.DoctorName
			view.BloodGroup = p.BloodGroup
		}
		out = append(out, view)
	}
	return out, nil
}

func (l *RoomLedger) CreateRoom(ctx context.Context, caller Caller, number string, floor int) (*models.Room, error) {
	if err := l.policy.Authorize(OpRoomCreate, caller.Role); err != nil {
		return nil, err
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, newError(KindMissingFields, OpRoomCreate, "room_number and floor are required", nil)
	}
	room := &models.Room{RoomNumber: number, Floor: floor}
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateRoom(room)
	})
	if err != nil {
		return nil, classify(OpRoomCreate, err, KindNotFound, KindDuplicateRoom)
	}
	l.invalidate(ctx)
	return room, nil
}

// UpdateRoom changes number and floor only; occupied is never written here.
func (l *RoomLedger) UpdateRoom(ctx context.Context, caller Caller, id uint, number string, floor int) (*models.Room, error) {
	if err := l.policy.Authorize(OpRoomUpdate, caller.Role); err != nil {
		return nil, err
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, newError(KindMissingFields, OpRoomUpdate, "room_number and floor are required", nil)
	}
	var updated *models.Room
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		room, err := tx.LockRoom(id)
		if err != nil {
			return err
		}
		room.RoomNumber = number
		room.Floor = floor
		if err := tx.UpdateRoom(room); err != nil {
			return err
		}
		updated = room
		return nil
	})
	if err != nil {
		return nil, classify(OpRoomUpdate, err, KindNotFound, KindDuplicateRoom)
	}
	l.invalidate(ctx)
	return updated, nil
}

// DeleteRoom removes a room only when no patient references it, whatever
// its occupied flag says.
func (l *RoomLedger) DeleteRoom(ctx context.Context, caller Caller, id uint) (*models.Room, error) {
	if err := l.policy.Authorize(OpRoomDelete, caller.Role); err != nil {
		return nil, err
	}
	var deleted *models.Room
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		room, err := tx.LockRoom(id)
		if err != nil {
			return err
		}
		n, err := tx.CountRoomReferents(id, 0)
		if err != nil {
			return err
		}
		if n > 0 {
			return newError(KindRoomInUse, OpRoomDelete, "room is currently occupied by a patient", nil)
		}
		if err := tx.DeleteRoom(id); err != nil {
			return err
		}
		deleted = room
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return nil, newError(KindRoomInUse, OpRoomDelete, "room is currently occupied by a patient", err)
		}
		return nil, classify(OpRoomDelete, err, KindNotFound, KindInternal)
	}
	l.invalidate(ctx)
	return deleted, nil
}

// RoomEvents returns the newest allocation events touching a room.
func (l *RoomLedger) RoomEvents(ctx context.Context, id uint, limit int) ([]models.AllocationEvent, error) {
	if _, err := l.store.GetRoom(ctx, id); err != nil {
		return nil, classify(opRead, err, KindRoomNotFound, KindInternal)
	}
	events, err := l.store.RoomEvents(ctx, id, limit)
	if err != nil {
		return nil, classify(opRead, err, KindNotFound, KindInternal)
	}
	return events, nil
}

func (l *RoomLedger) lockRoom(tx store.Tx, id uint) (*models.Room, error) {
	return tx.LockRoom(id)
}

func (l *RoomLedger) setOccupied(tx store.Tx, id uint, occupied bool) error {
	return tx.SetOccupied(id, occupied)
}

// invalidate runs after commit; a failure leaves the entry to expire by TTL.
func (l *RoomLedger) invalidate(ctx context.Context) {
	if err := l.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		l.log.Warn("room cache invalidate failed", zap.Error(err))
	}
}

// classify turns store and context errors into a typed *Error. Errors that
// are already typed pass through.
func classify(op Op, err error, notFound, duplicate Kind) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	switch {
	case errors.Is(err, store.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return newError(KindContention, op, "resource is busy, retry later", err)
	case errors.Is(err, context.Canceled):
		return newError(KindInternal, op, "request cancelled", err)
	case errors.Is(err, store.ErrNotFound):
		return newError(notFound, op, notFoundMessage(notFound), err)
	case errors.Is(err, store.ErrDuplicate):
		return newError(duplicate, op, duplicateMessage(duplicate), err)
	}
	return newError(KindInternal, op, "internal error", err)
}

func notFoundMessage(k Kind) string {
	switch k {
	case KindRoomNotFound:
		return "room not found"
	case KindRoomUnavailable:
		return "room is not available"
	}
	return "not found"
}

func duplicateMessage(k Kind) string {
	switch k {
	case KindDuplicateRoom:
		return "room number already exists on this floor"
	case KindDuplicatePatient:
		return "medical record number already exists"
	case KindDuplicateUser:
		return "email already registered"
	}
	return "internal error"
}
