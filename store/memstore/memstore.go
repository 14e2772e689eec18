// Package memstore is an in-process store.Store. Rows are locked with one
// semaphore per row, writes are staged per transaction and applied on commit,
// and a lock wait is bounded by the configured timeout. It backs the memory
// driver and the allocation tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ward-backend/models"
	"ward-backend/store"
)

const DefaultLockTimeout = 5 * time.Second

type table int

const (
	tableRooms table = iota
	tablePatients
)

type rowKey struct {
	table table
	id    uint
}

type Store struct {
	mu       sync.Mutex
	rooms    map[uint]models.Room
	patients map[uint]models.Patient
	users    map[uint]models.User
	events   []models.AllocationEvent
	seq      map[string]uint

	lockMu sync.Mutex
	locks  map[rowKey]chan struct{}

	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		rooms:       make(map[uint]models.Room),
		patients:    make(map[uint]models.Patient),
		users:       make(map[uint]models.User),
		seq:         make(map[string]uint),
		locks:       make(map[rowKey]chan struct{}),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

// nextID must be called with s.mu held.
func (s *Store) nextID(name string) uint {
	s.seq[name]++
	return s.seq[name]
}

func (s *Store) rowLock(k rowKey) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[k] = ch
	}
	return ch
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(ctx, s)
	defer func() {
		if p := recover(); p != nil {
			tx.release()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.release()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.release()
		return err
	}
	err = tx.commit()
	tx.release()
	return err
}

func (s *Store) AvailableRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if !r.Occupied {
			out = append(out, r)
		}
	}
	sortRooms(out)
	return out, nil
}

func (s *Store) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) GetPatient(ctx context.Context, id uint) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePatient(p), nil
}

func (s *Store) RoomEvents(ctx context.Context, roomID uint, limit int) ([]models.AllocationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AllocationEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if refEquals(ev.FromRoomID, roomID) || refEquals(ev.ToRoomID, roomID) {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) OccupancySnapshot(ctx context.Context) ([]models.Room, []models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sortRooms(rooms)
	var patients []models.Patient
	for _, p := range s.patients {
		if p.RoomID != nil {
			patients = append(patients, *clonePatient(p))
		}
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].ID < patients[j].ID })
	return rooms, patients, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: users.email %q", store.ErrDuplicate, u.Email)
		}
	}
	now := s.now()
	u.ID = s.nextID("users")
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *models.AllocationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID("events")
	ev.CreatedAt = s.now()
	s.events = append(s.events, *ev)
	return nil
}

// Events returns every recorded allocation event in insertion order.
func (s *Store) Events() []models.AllocationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AllocationEvent(nil), s.events...)
}

func sortRooms(rooms []models.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Floor != rooms[j].Floor {
			return rooms[i].Floor < rooms[j].Floor
		}
		return rooms[i].RoomNumber < rooms[j].RoomNumber
	})
}

func refEquals(ref *uint, id uint) bool {
	return ref != nil && *ref == id
}

func clonePatient(p models.Patient) *models.Patient {
	if p.RoomID != nil {
		id := *p.RoomID
		p.RoomID = &id
	}
	p.Room = nil
	return &p
}
