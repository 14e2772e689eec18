package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ward-backend/models"
	"ward-backend/store"
)

func TestReconciler_DetectsDivergences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	empty := f.room(t, "101", 1)
	free := f.room(t, "102", 1)
	shared := f.room(t, "103", 1)
	ok := f.room(t, "104", 1)
	f.admit(t, doctor, "Fine", ok.ID)

	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetOccupied(empty.ID, true); err != nil {
			return err
		}
		if err := tx.CreatePatient(&models.Patient{Name: "Stray", RoomID: &free.ID}); err != nil {
			return err
		}
		if err := tx.SetOccupied(shared.ID, true); err != nil {
			return err
		}
		if err := tx.CreatePatient(&models.Patient{Name: "One", RoomID: &shared.ID}); err != nil {
			return err
		}
		return tx.CreatePatient(&models.Patient{Name: "Two", RoomID: &shared.ID})
	}))

	divs, err := f.recon.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, divs, 3)

	byRoom := map[uint]Divergence{}
	for _, d := range divs {
		byRoom[d.RoomID] = d
	}
	assert.Equal(t, DivergenceOccupiedEmpty, byRoom[empty.ID].Reason)
	assert.Equal(t, DivergenceFreeReferenced, byRoom[free.ID].Reason)
	assert.Equal(t, DivergenceShared, byRoom[shared.ID].Reason)
	assert.Len(t, byRoom[shared.ID].PatientIDs, 2)
	assert.NotContains(t, byRoom, ok.ID)
}

func TestReconciler_AuditRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.room(t, "101", 1)

	divs, err := f.recon.Audit(context.Background(), admin)
	require.NoError(t, err)
	assert.NotNil(t, divs)
	assert.Empty(t, divs)

	_, err = f.recon.Audit(context.Background(), doctor)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReconciler_Schedule(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.recon.Start(""))
	f.recon.Stop()

	assert.Error(t, f.recon.Start("not a schedule"))

	require.NoError(t, f.recon.Start("@every 1h"))
	f.recon.Stop()
}
