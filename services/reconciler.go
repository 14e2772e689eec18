package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ward-backend/store"
)

const (
	DivergenceOccupiedEmpty  = "occupied_without_patient"
	DivergenceFreeReferenced = "free_with_patient"
	DivergenceShared         = "multiple_patients"
)

// Divergence is a room whose occupied flag disagrees with the patients that
// reference it.
type Divergence struct {
	RoomID     uint   `json:"room_id"`
	RoomNumber string `json:"room_number"`
	Floor      int    `json:"floor"`
	Occupied   bool   `json:"occupied"`
	PatientIDs []uint `json:"patient_ids"`
	Reason     string `json:"reason"`
}

// Reconciler scans for occupancy divergences on a cron schedule. It reports
// and never repairs.
type Reconciler struct {
	store   store.Reader
	policy  Policy
	metrics *Metrics
	log     *zap.Logger
	timeout time.Duration
	cron    *cron.Cron
}

func NewReconciler(st store.Reader, policy Policy, metrics *Metrics, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.rules == nil {
		policy = DefaultPolicy()
	}
	return &Reconciler{store: st, policy: policy, metrics: metrics, log: log, timeout: 30 * time.Second}
}

func (r *Reconciler) Scan(ctx context.Context) ([]Divergence, error) {
	rooms, patients, err := r.store.OccupancySnapshot(ctx)
	if err != nil {
		return nil, classify(OpRoomAudit, err, KindNotFound, KindInternal)
	}
	refs := make(map[uint][]uint, len(patients))
	for _, p := range patients {
		if p.RoomID != nil {
			refs[*p.RoomID] = append(refs[*p.RoomID], p.ID)
		}
	}
	out := []Divergence{}
	for _, room := range rooms {
		ids := refs[room.ID]
		var reason string
		switch {
		case len(ids) > 1:
			reason = DivergenceShared
		case room.Occupied && len(ids) == 0:
			reason = DivergenceOccupiedEmpty
		case !room.Occupied && len(ids) > 0:
			reason = DivergenceFreeReferenced
		default:
			continue
		}
		out = append(out, Divergence{
			RoomID:     room.ID,
			RoomNumber: room.RoomNumber,
			Floor:      room.Floor,
			Occupied:   room.Occupied,
			PatientIDs: ids,
			Reason:     reason,
		})
	}
	r.metrics.setDivergences(len(out))
	return out, nil
}

// Audit is Scan behind the room.audit policy.
func (r *Reconciler) Audit(ctx context.Context, caller Caller) ([]Divergence, error) {
	if err := r.policy.Authorize(OpRoomAudit, caller.Role); err != nil {
		return nil, err
	}
	return r.Scan(ctx)
}

// Start schedules the scan. An empty schedule disables it.
func (r *Reconciler) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, r.scheduledScan); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	r.log.Info("occupancy reconciler scheduled", zap.String("schedule", schedule))
	return nil
}

func (r *Reconciler) scheduledScan() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	divs, err := r.Scan(ctx)
	if err != nil {
		r.log.Error("occupancy scan failed", zap.Error(err))
		return
	}
	for _, d := range divs {
		r.log.Warn("occupancy divergence",
			zap.Uint("room_id", d.RoomID),
			zap.String("reason", d.Reason),
			zap.Uints("patient_ids", d.PatientIDs),
		)
	}
}

// Stop waits for a running scan to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
