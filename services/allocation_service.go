package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"ward-backend/models"
	"ward-backend/store"
)

// DefaultTransferRetries bounds how often a transfer transaction is rerun
// when the patient moved between the unlocked read and the row lock.
const DefaultTransferRetries = 3

// errPatientMoved rolls back a transfer attempt so it can rerun with fresh
// reads and no locks held.
var errPatientMoved = errors.New("patient moved before lock")

// Caller is the authenticated principal behind an operation.
type Caller struct {
	UserID uint
	Role   string
}

// Coordinator runs admit, transfer, checkout and reserve as single
// transactions so a room is never double-booked and occupied never diverges
// from patient assignment.
type Coordinator struct {
	store           store.Store
	ledger          *RoomLedger
	policy          Policy
	metrics         *Metrics
	events          EventPublisher
	log             *zap.Logger
	transferRetries int
}

type CoordinatorOptions struct {
	Store           store.Store
	Ledger          *RoomLedger
	Policy          Policy
	Metrics         *Metrics
	Events          EventPublisher
	Logger          *zap.Logger
	TransferRetries int
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		store:           opts.Store,
		ledger:          opts.Ledger,
		policy:          opts.Policy,
		metrics:         opts.Metrics,
		events:          opts.Events,
		log:             opts.Logger,
		transferRetries: opts.TransferRetries,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.ledger == nil {
		c.ledger = NewRoomLedger(LedgerOptions{Store: opts.Store, Policy: opts.Policy, Logger: c.log})
	}
	if c.policy.rules == nil {
		c.policy = DefaultPolicy()
	}
	if c.events == nil {
		c.events = noopPublisher{}
	}
	if c.transferRetries <= 0 {
		c.transferRetries = DefaultTransferRetries
	}
	return c
}

// attempt is one allocation body. It fills ev and reports whether a state
// change happened; record=false writes no event.
type attempt func(tx store.Tx, ev *models.AllocationEvent) (record bool, err error)

func (c *Coordinator) run(ctx context.Context, op Op, caller Caller, ev *models.AllocationEvent, fn attempt) error {
	started := time.Now()
	ev.ActorID = caller.UserID

	err := c.policy.Authorize(op, caller.Role)
	recorded := false
	if err == nil {
		for i := 0; ; i++ {
			recorded = false
			err = c.store.InTx(ctx, func(tx store.Tx) error {
				record, err := fn(tx, ev)
				if err != nil || !record {
					return err
				}
				ev.Outcome = models.OutcomeCommitted
				recorded = true
				return tx.AppendEvent(ev)
			})
			if !errors.Is(err, errPatientMoved) || i >= c.transferRetries {
				break
			}
		}
		if errors.Is(err, errPatientMoved) {
			err = newError(KindContention, op, "patient is being moved concurrently, retry later", err)
		}
		err = classify(op, err, KindNotFound, KindDuplicatePatient)
	}
	c.metrics.observe(op, err, started)

	if err != nil {
		c.reject(ctx, op, *ev, err)
		return err
	}
	if recorded {
		c.ledger.invalidate(ctx)
		c.events.Publish(*ev)
		c.log.Info("allocation committed",
			zap.String("op", string(op)),
			zap.Uint("patient_id", ev.PatientID),
			zap.Uint("actor_id", ev.ActorID),
			zap.Duration("latency", time.Since(started)),
		)
	}
	return nil
}

// reject logs the failure and writes a best-effort audit row outside the
// rolled-back transaction.
func (c *Coordinator) reject(ctx context.Context, op Op, ev models.AllocationEvent, err error) {
	kind := KindOf(err)
	if kind == KindInternal {
		c.log.Error("allocation failed", zap.String("op", string(op)), zap.Error(err))
		return
	}
	c.log.Debug("allocation rejected", zap.String("op", string(op)), zap.String("kind", string(kind)))

	ev.ID = 0
	ev.Outcome = string(kind)
	if ev.Kind == "" {
		ev.Kind = string(op)
	}
	if aerr := c.store.AppendEvent(context.WithoutCancel(ctx), &ev); aerr != nil {
		c.log.Warn("record rejected allocation", zap.String("op", string(op)), zap.Error(aerr))
	}
}

func details(v map[string]interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func ptr(id uint) *uint { return &id }

// AdmitRequest admits either a new patient (Patient) or an existing one
// (PatientID) into RoomID.
type AdmitRequest struct {
	PatientID uint
	Patient   *models.Patient
	RoomID    uint
}

func (c *Coordinator) Admit(ctx context.Context, caller Caller, req AdmitRequest) (*models.Patient, error) {
	ev := &models.AllocationEvent{Kind: models.EventAdmit, PatientID: req.PatientID, ToRoomID: ptr(req.RoomID)}
	if req.RoomID == 0 || (req.PatientID == 0 && (req.Patient == nil || strings.TrimSpace(req.Patient.Name) == "")) {
		err := newError(KindMissingFields, OpAdmit, "room_id and patient details are required", nil)
		c.metrics.observe(OpAdmit, err, time.Now())
		return nil, err
	}

	var admitted *models.Patient
	err := c.run(ctx, OpAdmit, caller, ev, func(tx store.Tx, ev *models.AllocationEvent) (bool, error) {
		if err := c.claimRoom(tx, OpAdmit, req.RoomID, 0); err != nil {
			return false, err
		}

		if req.PatientID == 0 {
			p := *req.Patient
			p.ID = 0
			p.UserID = caller.UserID
			p.RoomID = ptr(req.RoomID)
			applyAdmitDefaults(&p)
			if err := tx.CreatePatient(&p); err != nil {
				if errors.Is(err, store.ErrReferenced) {
					return false, newError(KindRoomUnavailable, OpAdmit, "room is not available", err)
				}
				return false, err
			}
			admitted = &p
		} else {
			p, err := c.lockOwnedPatient(tx, OpAdmit, caller, req.PatientID)
			if err != nil {
				return false, err
			}
			if p.RoomID != nil {
				return false, newError(KindAlreadyAdmitted, OpAdmit, "patient already holds a room", nil)
			}
			if err := tx.SetPatientRoom(p.ID, ptr(req.RoomID)); err != nil {
				return false, err
			}
			p.RoomID = ptr(req.RoomID)
			admitted = p
		}

		if err := c.ledger.setOccupied(tx, req.RoomID, true); err != nil {
			return false, err
		}
		ev.PatientID = admitted.ID
		ev.Details = details(map[string]interface{}{"patient_name": admitted.Name})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return admitted, nil
}

func applyAdmitDefaults(p *models.Patient) {
	if strings.TrimSpace(p.MedicalHistory) == "" {
		p.MedicalHistory = "None"
	}
	if strings.TrimSpace(p.AdmissionReason) == "" {
		p.AdmissionReason = "Not specified"
	}
	if strings.TrimSpace(p.Insurance) == "" {
		p.Insurance = "No"
	}
	if p.AdmissionDate.IsZero() {
		p.AdmissionDate = time.Now().UTC()
	}
}

// claimRoom locks a room that is about to receive patientID. Any room that is
// missing or not provably empty is RoomUnavailable.
func (c *Coordinator) claimRoom(tx store.Tx, op Op, roomID, patientID uint) error {
	room, err := c.ledger.lockRoom(tx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindRoomUnavailable, op, "room is not available", err)
	}
	if err != nil {
		return err
	}
	if room.Occupied {
		return newError(KindRoomUnavailable, op, "room is not available", nil)
	}
	n, err := tx.CountRoomReferents(roomID, patientID)
	if err != nil {
		return err
	}
	if n > 0 {
		return newError(KindRoomUnavailable, op, "room is not available", nil)
	}
	return nil
}

// lockOwnedPatient hides patients owned by other users behind NotFound.
func (c *Coordinator) lockOwnedPatient(tx store.Tx, op Op, caller Caller, id uint) (*models.Patient, error) {
	p, err := tx.LockPatient(id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.UserID != caller.UserID) {
		return nil, newError(KindNotFound, op, "patient not found", err)
	}
	return p, err
}

func (c *Coordinator) Transfer(ctx context.Context, caller Caller, patientID, newRoomID uint) (*models.Patient, error) {
	return c.UpdatePatient(ctx, caller, PatientUpdate{ID: patientID, RoomID: &newRoomID})
}

// PatientFields holds optional demographic updates; nil leaves a column as is.
type PatientFields struct {
	Name                *string
	Age                 *int
	Phone               *string
	EmergencyPhone      *string
	MedicalHistory      *string
	DoctorName          *string
	BloodGroup          *string
	Insurance           *string
	AdmissionDate       *time.Time
	AdmissionReason     *string
	MedicalRecordNumber *string
}

func (f PatientFields) empty() bool {
	return f == PatientFields{}
}

func (f PatientFields) apply(p *models.Patient) {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Age != nil {
		p.Age = *f.Age
	}
	if f.Phone != nil {
		p.Phone = f.Phone
	}
	if f.EmergencyPhone != nil {
		p.EmergencyPhone = f.EmergencyPhone
	}
	if f.MedicalHistory != nil {
		p.MedicalHistory = *f.MedicalHistory
	}
	if f.DoctorName != nil {
		p.DoctorName = *f.DoctorName
	}
	if f.BloodGroup != nil {
		p.BloodGroup = *f.BloodGroup
	}
	if f.Insurance != nil {
		p.Insurance = *f.Insurance
	}
	if f.AdmissionDate != nil {
		p.AdmissionDate = *f.AdmissionDate
	}
	if f.AdmissionReason != nil {
		p.AdmissionReason = *f.AdmissionReason
	}
	if f.MedicalRecordNumber != nil {
		p.MedicalRecordNumber = f.MedicalRecordNumber
	}
}

// PatientUpdate applies Fields and, when RoomID names a different room,
// moves the patient there in the same transaction.
type PatientUpdate struct {
	ID     uint
	Fields PatientFields
	RoomID *uint
}

func (c *Coordinator) UpdatePatient(ctx context.Context, caller Caller, upd PatientUpdate) (*models.Patient, error) {
	ev := &models.AllocationEvent{Kind: models.EventTransfer, PatientID: upd.ID}
	if upd.RoomID != nil {
		ev.ToRoomID = ptr(*upd.RoomID)
	}

	var result *models.Patient
	err := c.run(ctx, OpTransfer, caller, ev, func(tx store.Tx, ev *models.AllocationEvent) (bool, error) {
		var (
			p     *models.Patient
			moved bool
			err   error
		)
		if upd.RoomID != nil && *upd.RoomID != 0 {
			p, moved, err = c.transferInTx(tx, caller, upd.ID, *upd.RoomID, ev)
		} else {
			p, err = c.lockOwnedPatient(tx, OpTransfer, caller, upd.ID)
		}
		if err != nil {
			return false, err
		}
		if !upd.Fields.empty() {
			upd.Fields.apply(p)
			if err := tx.UpdatePatient(p); err != nil {
				return false, err
			}
		}
		result = p
		return moved, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transferInTx locks the destination and source rooms in ascending id order,
// then the patient. When the patient moved between the unlocked read and the
// patient lock it returns errPatientMoved and run reruns the transaction.
func (c *Coordinator) transferInTx(tx store.Tx, caller Caller, patientID, newRoomID uint, ev *models.AllocationEvent) (*models.Patient, bool, error) {
	seen, err := tx.GetPatient(patientID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && seen.UserID != caller.UserID) {
		return nil, false, newError(KindNotFound, OpTransfer, "patient not found", err)
	}
	if err != nil {
		return nil, false, err
	}
	if seen.InRoom(newRoomID) {
		p, err := c.lockOwnedPatient(tx, OpTransfer, caller, patientID)
		if err != nil {
			return nil, false, err
		}
		if p.InRoom(newRoomID) {
			return p, false, nil
		}
		return nil, false, errPatientMoved
	}

	ids := []uint{newRoomID}
	if seen.RoomID != nil {
		ids = append(ids, *seen.RoomID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var dest *models.Room
	for _, id := range ids {
		room, err := c.ledger.lockRoom(tx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) && id == newRoomID {
				return nil, false, newError(KindRoomUnavailable, OpTransfer, "new room is not available", err)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, false, err
			}
			continue
		}
		if id == newRoomID {
			dest = room
		}
	}

	p, err := c.lockOwnedPatient(tx, OpTransfer, caller, patientID)
	if err != nil {
		return nil, false, err
	}
	if !sameRoom(p.RoomID, seen.RoomID) {
		return nil, false, errPatientMoved
	}

	if dest.Occupied {
		return nil, false, newError(KindRoomUnavailable, OpTransfer, "new room is not available", nil)
	}
	n, err := tx.CountRoomReferents(newRoomID, patientID)
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		return nil, false, newError(KindRoomUnavailable, OpTransfer, "new room is not available", nil)
	}

	if err := tx.SetPatientRoom(patientID, ptr(newRoomID)); err != nil {
		return nil, false, err
	}
	if p.RoomID != nil {
		others, err := tx.CountRoomReferents(*p.RoomID, patientID)
		if err != nil {
			return nil, false, err
		}
		if others == 0 {
			if err := c.ledger.setOccupied(tx, *p.RoomID, false); err != nil {
				return nil, false, err
			}
		}
	}
	if err := c.ledger.setOccupied(tx, newRoomID, true); err != nil {
		return nil, false, err
	}

	ev.FromRoomID = p.RoomID
	ev.ToRoomID = ptr(newRoomID)
	ev.Details = details(map[string]interface{}{"patient_name": p.Name})
	p.RoomID = ptr(newRoomID)
	return p, true, nil
}

func sameRoom(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Checkout releases a room and returns the patient that left it.
func (c *Coordinator) Checkout(ctx context.Context, caller Caller, roomID uint) (*models.Patient, error) {
	ev := &models.AllocationEvent{Kind: models.EventCheckout, FromRoomID: ptr(roomID)}

	var left *models.Patient
	err := c.run(ctx, OpCheckout, caller, ev, func(tx store.Tx, ev *models.AllocationEvent) (bool, error) {
		if _, err := c.ledger.lockRoom(tx, roomID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, newError(KindRoomNotFound, OpCheckout, "room not found", err)
			}
			return false, err
		}
		p, err := tx.LockPatientInRoom(roomID)
		if errors.Is(err, store.ErrNotFound) {
			return false, newError(KindNoPatientInRoom, OpCheckout, "no patient is assigned to this room", err)
		}
		if err != nil {
			return false, err
		}
		if err := tx.SetPatientRoom(p.ID, nil); err != nil {
			return false, err
		}
		others, err := tx.CountRoomReferents(roomID, p.ID)
		if err != nil {
			return false, err
		}
		if others > 0 {
			c.log.Warn("room still referenced after checkout",
				zap.Uint("room_id", roomID), zap.Int64("referents", others))
		}
		if err := c.ledger.setOccupied(tx, roomID, others > 0); err != nil {
			return false, err
		}
		p.RoomID = nil
		ev.PatientID = p.ID
		ev.Details = details(map[string]interface{}{"patient_name": p.Name})
		left = p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return left, nil
}

// Reserve assigns an existing patient without a room to roomID.
func (c *Coordinator) Reserve(ctx context.Context, caller Caller, roomID, patientID uint) error {
	ev := &models.AllocationEvent{Kind: models.EventReserve, PatientID: patientID, ToRoomID: ptr(roomID)}
	if patientID == 0 {
		err := newError(KindMissingFields, OpReserve, "patient id is required", nil)
		c.metrics.observe(OpReserve, err, time.Now())
		return err
	}

	return c.run(ctx, OpReserve, caller, ev, func(tx store.Tx, ev *models.AllocationEvent) (bool, error) {
		room, err := c.ledger.lockRoom(tx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return false, newError(KindRoomUnavailable, OpReserve, "room not available or already occupied", err)
		}
		if err != nil {
			return false, err
		}
		p, err := tx.LockPatient(patientID)
		if errors.Is(err, store.ErrNotFound) {
			return false, newError(KindNotFound, OpReserve, "patient not found", err)
		}
		if err != nil {
			return false, err
		}
		if p.InRoom(roomID) && room.Occupied {
			return false, nil
		}
		if room.Occupied {
			return false, newError(KindRoomUnavailable, OpReserve, "room not available or already occupied", nil)
		}
		if p.RoomID != nil {
			return false, newError(KindAlreadyAdmitted, OpReserve, "patient already holds a room", nil)
		}
		n, err := tx.CountRoomReferents(roomID, patientID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, newError(KindRoomUnavailable, OpReserve, "room not available or already occupied", nil)
		}
		if err := tx.SetPatientRoom(patientID, ptr(roomID)); err != nil {
			return false, err
		}
		if err := c.ledger.setOccupied(tx, roomID, true); err != nil {
			return false, err
		}
		ev.Details = details(map[string]interface{}{"patient_name": p.Name})
		return true, nil
	})
}

// Patient returns a patient owned by the caller.
func (c *Coordinator) Patient(ctx context.Context, caller Caller, id uint) (*models.Patient, error) {
	p, err := c.store.GetPatient(ctx, id)
	if err != nil {
		return nil, classify(opRead, err, KindNotFound, KindInternal)
	}
	if p.UserID != caller.UserID {
		return nil, newError(KindNotFound, opRead, "patient not found", nil)
	}
	return p, nil
}
