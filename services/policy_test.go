package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ward-backend/models"
	"ward-backend/store"
	"ward-backend/store/memstore"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		op      Op
		role    string
		allowed bool
	}{
		{OpAdmit, models.RoleDoctor, true},
		{OpAdmit, models.RoleAdmin, true},
		{OpAdmit, models.RoleNurse, false},
		{OpCheckout, "DOCTOR", true},
		{OpRoomDelete, models.RoleDoctor, true},
		{OpRoomAudit, models.RoleDoctor, false},
		{OpRoomAudit, models.RoleAdmin, true},
		{OpRegister, models.RoleDoctor, false},
		{opRead, models.RoleNurse, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.op, tt.role), func(t *testing.T) {
			err := p.Authorize(tt.op, tt.role)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestPolicy_WithDoesNotMutate(t *testing.T) {
	base := DefaultPolicy()
	open := base.With(OpCheckout, " Nurse ", "")

	assert.Equal(t, []string{"nurse"}, open.Roles(OpCheckout))
	assert.NoError(t, open.Authorize(OpCheckout, models.RoleNurse))
	assert.ErrorIs(t, base.Authorize(OpCheckout, models.RoleNurse), ErrForbidden)

	anyone := base.With(OpAdmit)
	assert.NoError(t, anyone.Authorize(OpAdmit, "porter"))
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(map[string][]string{"room.audit": {"admin", "doctor"}})
	require.NoError(t, err)
	assert.NoError(t, p.Authorize(OpRoomAudit, models.RoleDoctor))

	for _, op := range Ops {
		_, err := NewPolicy(map[string][]string{string(op): nil})
		assert.NoError(t, err, op)
	}

	_, err = NewPolicy(map[string][]string{"room.rename": {"admin"}})
	assert.Error(t, err)
}

func TestError_IsMatchesKind(t *testing.T) {
	err := newError(KindRoomInUse, OpRoomDelete, "room is in use", store.ErrReferenced)
	wrapped := fmt.Errorf("handler: %w", err)

	assert.ErrorIs(t, wrapped, ErrRoomInUse)
	assert.ErrorIs(t, wrapped, store.ErrReferenced)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, KindRoomInUse, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "room.delete [ROOM_IN_USE]")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want Kind
	}{
		{"lock timeout", store.ErrLockTimeout, KindContention},
		{"deadline", context.DeadlineExceeded, KindContention},
		{"cancelled", context.Canceled, KindInternal},
		{"not found", store.ErrNotFound, KindRoomNotFound},
		{"duplicate", store.ErrDuplicate, KindDuplicateRoom},
		{"typed passthrough", newError(KindAlreadyAdmitted, OpAdmit, "x", nil), KindAlreadyAdmitted},
		{"unknown", errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(OpRoomCreate, tt.in, KindRoomNotFound, KindDuplicateRoom)
			assert.Equal(t, tt.want, KindOf(got))
		})
	}
	assert.Nil(t, classify(OpAdmit, nil, KindNotFound, KindInternal))
}

func TestMetrics_ObserveOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	st := memstore.New()
	ledger := NewRoomLedger(LedgerOptions{Store: st})
	coord := NewCoordinator(CoordinatorOptions{Store: st, Ledger: ledger, Metrics: m})
	ctx := context.Background()

	room, err := ledger.CreateRoom(ctx, admin, "101", 1)
	require.NoError(t, err)
	_, err = coord.Admit(ctx, doctor, AdmitRequest{Patient: newPatient("A"), RoomID: room.ID})
	require.NoError(t, err)
	_, err = coord.Admit(ctx, doctor, AdmitRequest{Patient: newPatient("B"), RoomID: room.ID})
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "ward_allocation_operations_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			var op, outcome string
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "op":
					op = l.GetValue()
				case "outcome":
					outcome = l.GetValue()
				}
			}
			counts[op+"/"+outcome] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), counts["admit/committed"])
	assert.Equal(t, float64(1), counts["admit/ROOM_UNAVAILABLE"])

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.setDivergences(3) })
}
