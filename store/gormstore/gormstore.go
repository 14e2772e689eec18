// Package gormstore implements store.Store on gorm for MySQL and Postgres.
// Row locks are SELECT ... FOR UPDATE taken through clause.Locking.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ward-backend/models"
	"ward-backend/store"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

type Store struct {
	db          *gorm.DB
	dialect     string
	lockTimeout time.Duration
}

type Options struct {
	// Dialect is DialectMySQL or DialectPostgres. It selects how the lock
	// wait bound is applied; MySQL takes it from the DSN instead.
	Dialect     string
	LockTimeout time.Duration
}

func New(db *gorm.DB, opts Options) *Store {
	return &Store{db: db, dialect: opts.Dialect, lockTimeout: opts.LockTimeout}
}

// Migrate creates or updates the allocation tables, parents first.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Patient{},
		&models.AllocationEvent{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.dialect == DialectPostgres && s.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(&gormTx{db: tx})
	})
	return translate(err)
}

func (s *Store) AvailableRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("occupied = ?", false).
		Order("floor, room_number").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("query available rooms: %w", translate(err))
	}
	return rooms, nil
}

func (s *Store) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *Store) GetPatient(ctx context.Context, id uint) (*models.Patient, error) {
	var p models.Patient
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) RoomEvents(ctx context.Context, roomID uint, limit int) ([]models.AllocationEvent, error) {
	var events []models.AllocationEvent
	q := s.db.WithContext(ctx).
		Where("from_room_id = ? OR to_room_id = ?", roomID, roomID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("query room events: %w", translate(err))
	}
	return events, nil
}

func (s *Store) OccupancySnapshot(ctx context.Context) ([]models.Room, []models.Patient, error) {
	var (
		rooms    []models.Room
		patients []models.Patient
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("floor, room_number").Find(&rooms).Error; err != nil {
			return err
		}
		return tx.Where("room_id IS NOT NULL").Order("id").Find(&patients).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("occupancy snapshot: %w", translate(err))
	}
	return rooms, patients, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, translate(err)
}

func (s *Store) AppendEvent(ctx context.Context, ev *models.AllocationEvent) error {
	return translate(s.db.WithContext(ctx).Create(ev).Error)
}

// gormTx binds store.Tx to one *gorm.DB transaction.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockRoom(id uint) (*models.Room, error) {
	var room models.Room
	if err := t.forUpdate().First(&room, id).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (t *gormTx) SetOccupied(id uint, occupied bool) error {
	// RowsAffected is not checked: MySQL reports 0 when the value is unchanged.
	err := t.db.Model(&models.Room{}).Where("id = ?", id).Update("occupied", occupied).Error
	return translate(err)
}

func (t *gormTx) CreateRoom(r *models.Room) error {
	return translate(t.db.Create(r).Error)
}

func (t *gormTx) UpdateRoom(r *models.Room) error {
	res := t.db.Model(&models.Room{}).Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"room_number": r.RoomNumber,
			"floor":       r.Floor,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

func (t *gormTx) DeleteRoom(id uint) error {
	res := t.db.Delete(&models.Room{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountRoomReferents is a locking read so it sees rows committed after the
// transaction snapshot. Postgres rejects FOR SHARE on count(*), so ids are
// plucked and counted.
func (t *gormTx) CountRoomReferents(roomID, excludePatientID uint) (int64, error) {
	var ids []uint
	err := t.db.Model(&models.Patient{}).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("room_id = ? AND id <> ?", roomID, excludePatientID).
		Pluck("id", &ids).Error
	return int64(len(ids)), translate(err)
}

func (t *gormTx) GetPatient(id uint) (*models.Patient, error) {
	var p models.Patient
	if err := t.db.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *gormTx) LockPatient(id uint) (*models.Patient, error) {
	var p models.Patient
	if err := t.forUpdate().First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *gormTx) LockPatientInRoom(roomID uint) (*models.Patient, error) {
	var p models.Patient
	err := t.forUpdate().Where("room_id = ?", roomID).Order("id").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *gormTx) CreatePatient(p *models.Patient) error {
	return translate(t.db.Omit("Room").Create(p).Error)
}

var patientColumns = []string{
	"name", "age", "phone", "emergency_phone", "medical_history", "doctor_name",
	"blood_group", "insurance", "admission_date", "admission_reason", "medical_record_number",
	"updated_at",
}

func (t *gormTx) UpdatePatient(p *models.Patient) error {
	res := t.db.Model(&models.Patient{ID: p.ID}).Select(patientColumns).Updates(p)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

func (t *gormTx) SetPatientRoom(patientID uint, roomID *uint) error {
	var value interface{} = gorm.Expr("NULL")
	if roomID != nil {
		value = *roomID
	}
	res := t.db.Model(&models.Patient{}).Where("id = ?", patientID).Update("room_id", value)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

func (t *gormTx) AppendEvent(ev *models.AllocationEvent) error {
	if ev == nil {
		return errors.New("nil allocation event")
	}
	return translate(t.db.Create(ev).Error)
}
