package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func newLot(lotID, securityKey string, date time.Time, sourceEventID string, quantity int64) *types.AcquisitionLot {
	return &types.AcquisitionLot{
		LotID:             lotID,
		SecurityKey:       securityKey,
		AssetClass:        types.AssetClassEquity,
		AcquisitionDate:   date,
		SourceEventID:     sourceEventID,
		OriginalQuantity:  decimal.NewFromInt(quantity),
		RemainingQuantity: decimal.NewFromInt(quantity),
		UnitCost:          decimal.NewFromInt(100),
		Status:            "OPEN",
	}
}

func TestLedger_FIFOOrder(t *testing.T) {
	l := NewLedger()

	// Insert out of order; iteration must come back oldest first
	require.NoError(t, l.AddLot(newLot("L3", "INE001", time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), "E3", 10)))
	require.NoError(t, l.AddLot(newLot("L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10)))
	require.NoError(t, l.AddLot(newLot("L2", "INE001", time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), "E2", 10)))

	it := l.AvailableLots("INE001")
	assert.Equal(t, "L1", it.Next().LotID)
	assert.Equal(t, "L2", it.Next().LotID)
	assert.Equal(t, "L3", it.Next().LotID)
	assert.Nil(t, it.Next())
}

func TestLedger_SameDayTieBreak(t *testing.T) {
	l := NewLedger()
	sameDay := time.Date(2021, 5, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.AddLot(newLot("LB", "INE001", sameDay, "EVENT-B", 10)))
	require.NoError(t, l.AddLot(newLot("LA", "INE001", sameDay, "EVENT-A", 10)))

	// Same acquisition date resolves by source event id
	it := l.AvailableLots("INE001")
	assert.Equal(t, "LA", it.Next().LotID)
	assert.Equal(t, "LB", it.Next().LotID)
}

func TestLedger_DuplicateIdentityRejected(t *testing.T) {
	l := NewLedger()
	date := time.Date(2021, 5, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.AddLot(newLot("L1", "INE001", date, "E1", 10)))

	err := l.AddLot(newLot("L1-dup", "INE001", date, "E1", 10))
	assert.ErrorIs(t, err, ErrDuplicateLot)

	// Same event id on a different date is a distinct lot
	assert.NoError(t, l.AddLot(newLot("L2", "INE001", date.AddDate(0, 0, 1), "E1", 10)))
}

func TestLedger_ConsumeAndExhaust(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.AddLot(newLot("L1", "INE001", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10)))

	require.NoError(t, l.Consume("L1", decimal.NewFromInt(4)))
	assert.True(t, l.RemainingUnits("INE001").Equal(decimal.NewFromInt(6)))

	require.NoError(t, l.Consume("L1", decimal.NewFromInt(6)))
	assert.True(t, l.RemainingUnits("INE001").IsZero())
	assert.Equal(t, "EXHAUSTED", l.Lots("INE001")[0].Status)

	// Exhausted lots drop out of iteration but stay in the ledger
	assert.Nil(t, l.AvailableLots("INE001").Next())
	assert.Len(t, l.Lots("INE001"), 1)
}

func TestLedger_OverConsumption(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.AddLot(newLot("L1", "INE001", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10)))

	err := l.Consume("L1", decimal.NewFromInt(11))
	assert.ErrorIs(t, err, ErrOverConsumption)
	// Remaining quantity untouched on failure
	assert.True(t, l.RemainingUnits("INE001").Equal(decimal.NewFromInt(10)))
}

func TestLedger_ConsumeUnknownLot(t *testing.T) {
	l := NewLedger()
	err := l.Consume("MISSING", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestLedger_IteratorRestarts(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.AddLot(newLot("L1", "INE001", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10)))
	require.NoError(t, l.AddLot(newLot("L2", "INE001", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), "E2", 10)))

	require.NoError(t, l.Consume("L1", decimal.NewFromInt(10)))

	// A fresh iterator starts from the oldest lot still open
	it := l.AvailableLots("INE001")
	assert.Equal(t, "L2", it.Next().LotID)
	assert.Nil(t, it.Next())
}

func TestLedger_SecurityKeys(t *testing.T) {
	l := NewLedger()
	date := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"INE300", "INE100", "INE200"} {
		require.NoError(t, l.AddLot(newLot(fmt.Sprintf("L%d", i), key, date, fmt.Sprintf("E%d", i), 10)))
	}
	assert.Equal(t, []string{"INE100", "INE200", "INE300"}, l.SecurityKeys())
}
