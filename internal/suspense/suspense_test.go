package suspense

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func setupSuspenseTest(t *testing.T) *Service {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&SuspenseItem{}, &types.AuditRecord{}))
	return NewService(db)
}

func openParams(securityKey string) OpenParams {
	return OpenParams{
		EventID:       "EVT_test",
		SecurityKey:   securityKey,
		MetricType:    types.MetricHoldingUnits,
		AssetClass:    types.AssetClassEquity,
		Period:        "2023-24",
		SuspenseValue: decimal.RequireFromString("12.5"),
		Reason:        "reconciliation mismatch",
	}
}

func TestOpen(t *testing.T) {
	service := setupSuspenseTest(t)

	item, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, item.Status)
	assert.Contains(t, item.ItemID, "SUS_")
	assert.True(t, item.SuspenseValue.Equal(decimal.RequireFromString("12.5")))
	assert.Nil(t, item.ClosedAt)
}

func TestOpen_DuplicateRejected(t *testing.T) {
	service := setupSuspenseTest(t)

	_, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)

	_, err = service.Open(openParams("INE001A01036"))
	assert.ErrorIs(t, err, ErrDuplicateSuspense)

	var domainErr *response.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusConflict, domainErr.Status)

	// A different security is a different discrepancy
	_, err = service.Open(openParams("INE002A01018"))
	assert.NoError(t, err)
}

func TestResolve(t *testing.T) {
	service := setupSuspenseTest(t)

	item, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)

	resolved, err := service.Resolve(item.ItemID, "corporate action adjusted manually")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "corporate action adjusted manually", resolved.ResolutionNote)
	require.NotNil(t, resolved.ClosedAt)

	// Terminal: a second disposition is rejected
	_, err = service.WriteOff(item.ItemID, "too small")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = service.Resolve(item.ItemID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var domainErr *response.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
}

func TestWriteOff(t *testing.T) {
	service := setupSuspenseTest(t)

	item, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)

	written, err := service.WriteOff(item.ItemID, "below materiality")
	require.NoError(t, err)
	assert.Equal(t, StatusWrittenOff, written.Status)
}

func TestReopenAfterResolution(t *testing.T) {
	service := setupSuspenseTest(t)

	first, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)
	_, err = service.Resolve(first.ItemID, "fixed")
	require.NoError(t, err)

	// The discrepancy recurring gets a fresh item, not a reopened one
	second, err := service.Open(openParams("INE001A01036"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ItemID, second.ItemID)
}

func TestOpenItems_Filtering(t *testing.T) {
	service := setupSuspenseTest(t)

	equity := openParams("INE001A01036")
	_, err := service.Open(equity)
	require.NoError(t, err)

	debt := openParams("INF109K01Z48")
	debt.AssetClass = types.AssetClassMFDebt
	_, err = service.Open(debt)
	require.NoError(t, err)

	closed := openParams("INE002A01018")
	item, err := service.Open(closed)
	require.NoError(t, err)
	_, err = service.WriteOff(item.ItemID, "noise")
	require.NoError(t, err)

	all, err := service.OpenItems("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyDebt, err := service.OpenItems(types.AssetClassMFDebt)
	require.NoError(t, err)
	require.Len(t, onlyDebt, 1)
	assert.Equal(t, "INF109K01Z48", onlyDebt[0].SecurityKey)
}
