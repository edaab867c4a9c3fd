package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDetails_KindMismatch(t *testing.T) {
	_, err := EncodeDetails(EntryKindEarning, TaxDetails{Rate: 300})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEncodeDetails_NilIsEmptyObject(t *testing.T) {
	b, err := EncodeDetails(EntryKindBonus, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestDecodeDetails(t *testing.T) {
	entryID := uuid.New()
	raw, err := EncodeDetails(EntryKindAdjustment, AdjustmentDetails{CompensatesEntryID: &entryID, Reason: "rail rejected"})
	require.NoError(t, err)

	d, err := DecodeDetails(EntryKindAdjustment, raw)
	require.NoError(t, err)

	adj, ok := d.(AdjustmentDetails)
	require.True(t, ok)
	require.NotNil(t, adj.CompensatesEntryID)
	assert.Equal(t, entryID, *adj.CompensatesEntryID)

	_, err = DecodeDetails(EntryKind("loan"), raw)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, EntryStatusPending, EntryKindWithdrawal.InitialStatus())
	for _, k := range []EntryKind{EntryKindEarning, EntryKindCommission, EntryKindTax, EntryKindAdjustment} {
		assert.Equal(t, EntryStatusCompleted, k.InitialStatus(), k)
	}
}

func TestPeriod(t *testing.T) {
	jan := Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	feb := Period{Start: jan.End, End: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	assert.True(t, jan.Contains(jan.Start))
	assert.False(t, jan.Contains(jan.End))
	assert.False(t, jan.Overlaps(feb))
	assert.True(t, jan.Overlaps(Period{Start: jan.Start.AddDate(0, 0, 10), End: feb.End}))
}

func TestIsStateConflict(t *testing.T) {
	assert.True(t, IsStateConflict(ErrDuplicateEntry))
	assert.True(t, IsStateConflict(ErrPeriodAlreadyBilled))
	assert.True(t, IsStateConflict(ErrAlreadyProvisioned))
	assert.False(t, IsStateConflict(ErrInsufficientBalance))
}
