package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ward-backend/models"
	"ward-backend/store"
)

// maxRelock bounds how often LockPatientInRoom chases a patient that moved
// out of the room while it waited for the row lock.
const maxRelock = 8

type tx struct {
	ctx  context.Context
	s    *Store
	held map[rowKey]chan struct{}

	// Staged rows. A nil value is a staged delete.
	rooms    map[uint]*models.Room
	patients map[uint]*models.Patient
	events   []*models.AllocationEvent
}

func newTx(ctx context.Context, s *Store) *tx {
	return &tx{
		ctx:      ctx,
		s:        s,
		held:     make(map[rowKey]chan struct{}),
		rooms:    make(map[uint]*models.Room),
		patients: make(map[uint]*models.Patient),
	}
}

func (t *tx) lock(k rowKey) error {
	if _, ok := t.held[k]; ok {
		return nil
	}
	ch := t.s.rowLock(k)
	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[k] = ch
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: table %d id %d", store.ErrLockTimeout, k.table, k.id)
	}
}

func (t *tx) release() {
	for k, ch := range t.held {
		<-ch
		delete(t.held, k)
	}
}

func (t *tx) room(id uint) (*models.Room, error) {
	if r, ok := t.rooms[id]; ok {
		if r == nil {
			return nil, store.ErrNotFound
		}
		cp := *r
		return &cp, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) patient(id uint) (*models.Patient, error) {
	if p, ok := t.patients[id]; ok {
		if p == nil {
			return nil, store.ErrNotFound
		}
		return clonePatient(*p), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.patients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePatient(p), nil
}

// visibleRooms merges committed rows with this transaction's staged rows.
func (t *tx) visibleRooms() map[uint]models.Room {
	t.s.mu.Lock()
	out := make(map[uint]models.Room, len(t.s.rooms))
	for id, r := range t.s.rooms {
		out[id] = r
	}
	t.s.mu.Unlock()
	for id, r := range t.rooms {
		if r == nil {
			delete(out, id)
			continue
		}
		out[id] = *r
	}
	return out
}

func (t *tx) visiblePatients() map[uint]models.Patient {
	t.s.mu.Lock()
	out := make(map[uint]models.Patient, len(t.s.patients))
	for id, p := range t.s.patients {
		out[id] = *clonePatient(p)
	}
	t.s.mu.Unlock()
	for id, p := range t.patients {
		if p == nil {
			delete(out, id)
			continue
		}
		out[id] = *clonePatient(*p)
	}
	return out
}

func (t *tx) LockRoom(id uint) (*models.Room, error) {
	if err := t.lock(rowKey{tableRooms, id}); err != nil {
		return nil, err
	}
	return t.room(id)
}

func (t *tx) SetOccupied(id uint, occupied bool) error {
	r, err := t.room(id)
	if err != nil {
		return err
	}
	r.Occupied = occupied
	r.UpdatedAt = t.s.now()
	t.rooms[id] = r
	return nil
}

func duplicateRoom(rooms map[uint]models.Room, r *models.Room) bool {
	for id, other := range rooms {
		if id != r.ID && other.RoomNumber == r.RoomNumber && other.Floor == r.Floor {
			return true
		}
	}
	return false
}

func (t *tx) CreateRoom(r *models.Room) error {
	if duplicateRoom(t.visibleRooms(), r) {
		return fmt.Errorf("%w: rooms (%s, %d)", store.ErrDuplicate, r.RoomNumber, r.Floor)
	}
	t.s.mu.Lock()
	r.ID = t.s.nextID("rooms")
	t.s.mu.Unlock()
	now := t.s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	cp := *r
	t.rooms[r.ID] = &cp
	return t.lock(rowKey{tableRooms, r.ID})
}

func (t *tx) UpdateRoom(r *models.Room) error {
	cur, err := t.room(r.ID)
	if err != nil {
		return err
	}
	cur.RoomNumber = r.RoomNumber
	cur.Floor = r.Floor
	if duplicateRoom(t.visibleRooms(), cur) {
		return fmt.Errorf("%w: rooms (%s, %d)", store.ErrDuplicate, cur.RoomNumber, cur.Floor)
	}
	cur.UpdatedAt = t.s.now()
	t.rooms[r.ID] = cur
	return nil
}

func (t *tx) DeleteRoom(id uint) error {
	if _, err := t.room(id); err != nil {
		return err
	}
	for _, p := range t.visiblePatients() {
		if p.InRoom(id) {
			return fmt.Errorf("%w: patient %d references room %d", store.ErrReferenced, p.ID, id)
		}
	}
	t.rooms[id] = nil
	return nil
}

func (t *tx) CountRoomReferents(roomID, excludePatientID uint) (int64, error) {
	var n int64
	for id, p := range t.visiblePatients() {
		if id != excludePatientID && p.InRoom(roomID) {
			n++
		}
	}
	return n, nil
}

func (t *tx) GetPatient(id uint) (*models.Patient, error) {
	return t.patient(id)
}

func (t *tx) LockPatient(id uint) (*models.Patient, error) {
	if err := t.lock(rowKey{tablePatients, id}); err != nil {
		return nil, err
	}
	return t.patient(id)
}

func (t *tx) LockPatientInRoom(roomID uint) (*models.Patient, error) {
	for attempt := 0; attempt < maxRelock; attempt++ {
		var ids []uint
		for id, p := range t.visiblePatients() {
			if p.InRoom(roomID) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, store.ErrNotFound
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		p, err := t.LockPatient(ids[0])
		if err != nil {
			return nil, err
		}
		if p.InRoom(roomID) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: patients in room %d kept moving", store.ErrLockTimeout, roomID)
}

func duplicateMRN(patients map[uint]models.Patient, p *models.Patient) bool {
	if p.MedicalRecordNumber == nil {
		return false
	}
	for id, other := range patients {
		if id != p.ID && other.MedicalRecordNumber != nil && *other.MedicalRecordNumber == *p.MedicalRecordNumber {
			return true
		}
	}
	return false
}

func (t *tx) CreatePatient(p *models.Patient) error {
	if duplicateMRN(t.visiblePatients(), p) {
		return fmt.Errorf("%w: patients.medical_record_number %q", store.ErrDuplicate, *p.MedicalRecordNumber)
	}
	if p.RoomID != nil {
		if _, err := t.room(*p.RoomID); err != nil {
			return fmt.Errorf("%w: room %d does not exist", store.ErrReferenced, *p.RoomID)
		}
	}
	t.s.mu.Lock()
	p.ID = t.s.nextID("patients")
	t.s.mu.Unlock()
	now := t.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.patients[p.ID] = clonePatient(*p)
	return t.lock(rowKey{tablePatients, p.ID})
}

func (t *tx) UpdatePatient(p *models.Patient) error {
	cur, err := t.patient(p.ID)
	if err != nil {
		return err
	}
	cur.Name = p.Name
	cur.Age = p.Age
	cur.Phone = p.Phone
	cur.EmergencyPhone = p.EmergencyPhone
	cur.MedicalHistory = p.MedicalHistory
	cur.DoctorName = p.DoctorName
	cur.BloodGroup = p.BloodGroup
	cur.Insurance = p.Insurance
	cur.AdmissionDate = p.AdmissionDate
	cur.AdmissionReason = p.AdmissionReason
	cur.MedicalRecordNumber = p.MedicalRecordNumber
	if duplicateMRN(t.visiblePatients(), cur) {
		return fmt.Errorf("%w: patients.medical_record_number %q", store.ErrDuplicate, *cur.MedicalRecordNumber)
	}
	cur.UpdatedAt = t.s.now()
	t.patients[p.ID] = cur
	return nil
}

func (t *tx) SetPatientRoom(patientID uint, roomID *uint) error {
	cur, err := t.patient(patientID)
	if err != nil {
		return err
	}
	if roomID != nil {
		if _, err := t.room(*roomID); err != nil {
			return fmt.Errorf("%w: room %d does not exist", store.ErrReferenced, *roomID)
		}
		id := *roomID
		cur.RoomID = &id
	} else {
		cur.RoomID = nil
	}
	cur.UpdatedAt = t.s.now()
	t.patients[patientID] = cur
	return nil
}

func (t *tx) AppendEvent(ev *models.AllocationEvent) error {
	t.events = append(t.events, ev)
	return nil
}

// commit re-checks the unique and reference constraints against the latest
// committed state and applies staged rows atomically.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make(map[uint]models.Room, len(s.rooms))
	for id, r := range s.rooms {
		rooms[id] = r
	}
	for id, r := range t.rooms {
		if r == nil {
			delete(rooms, id)
		} else {
			rooms[id] = *r
		}
	}
	patients := make(map[uint]models.Patient, len(s.patients))
	for id, p := range s.patients {
		patients[id] = p
	}
	for id, p := range t.patients {
		if p == nil {
			delete(patients, id)
		} else {
			patients[id] = *p
		}
	}

	for id, r := range t.rooms {
		if r != nil {
			if duplicateRoom(rooms, r) {
				return fmt.Errorf("%w: rooms (%s, %d)", store.ErrDuplicate, r.RoomNumber, r.Floor)
			}
			continue
		}
		for _, p := range patients {
			if p.InRoom(id) {
				return fmt.Errorf("%w: patient %d references room %d", store.ErrReferenced, p.ID, id)
			}
		}
	}
	for _, p := range t.patients {
		if p == nil {
			continue
		}
		if duplicateMRN(patients, p) {
			return fmt.Errorf("%w: patients.medical_record_number %q", store.ErrDuplicate, *p.MedicalRecordNumber)
		}
		if p.RoomID != nil {
			if _, ok := rooms[*p.RoomID]; !ok {
				return fmt.Errorf("%w: room %d does not exist", store.ErrReferenced, *p.RoomID)
			}
		}
	}

	s.rooms = rooms
	s.patients = patients
	now := s.now()
	for _, ev := range t.events {
		ev.ID = s.nextID("events")
		ev.CreatedAt = now
		s.events = append(s.events, *ev)
	}
	return nil
}
