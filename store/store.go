// Package store defines the persistence contract shared by the room ledger and
// the allocation coordinator. Implementations live in store/gormstore
// (MySQL, Postgres) and store/memstore (in-process, used by tests and the
// memory driver).
package store

import (
	"context"
	"errors"

	"ward-backend/models"
)

var (
	ErrNotFound    = errors.New("store: record not found")
	ErrDuplicate   = errors.New("store: duplicate key")
	ErrLockTimeout = errors.New("store: lock wait timeout")
	ErrReferenced  = errors.New("store: row is still referenced")
)

// Store is an injected handle to the relational store.
type Store interface {
	Reader

	// InTx runs fn inside one transaction. The transaction commits only when
	// fn returns nil; an error, a panic or a cancelled ctx rolls back every
	// write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Reader is the non-locking read side, outside any caller transaction.
type Reader interface {
	AvailableRooms(ctx context.Context) ([]models.Room, error)
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	GetPatient(ctx context.Context, id uint) (*models.Patient, error)
	RoomEvents(ctx context.Context, roomID uint, limit int) ([]models.AllocationEvent, error)

	// OccupancySnapshot returns every room and every patient holding a room,
	// read from one consistent snapshot.
	OccupancySnapshot(ctx context.Context) ([]models.Room, []models.Patient, error)

	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	CountUsers(ctx context.Context) (int64, error)
	AppendEvent(ctx context.Context, ev *models.AllocationEvent) error
}

// Tx is a transaction handle. Lock* methods take an exclusive row lock held
// until the transaction ends.
type Tx interface {
	LockRoom(id uint) (*models.Room, error)
	SetOccupied(id uint, occupied bool) error
	CreateRoom(r *models.Room) error
	UpdateRoom(r *models.Room) error
	DeleteRoom(id uint) error

	// CountRoomReferents counts patients other than excludePatientID whose
	// room_id is roomID.
	CountRoomReferents(roomID, excludePatientID uint) (int64, error)

	GetPatient(id uint) (*models.Patient, error)
	LockPatient(id uint) (*models.Patient, error)
	// LockPatientInRoom locks the lowest-id patient referencing roomID.
	LockPatientInRoom(roomID uint) (*models.Patient, error)
	CreatePatient(p *models.Patient) error
	// UpdatePatient writes the demographic and medical columns. It never
	// touches room_id; use SetPatientRoom for that.
	UpdatePatient(p *models.Patient) error
	SetPatientRoom(patientID uint, roomID *uint) error

	AppendEvent(ev *models.AllocationEvent) error
}
