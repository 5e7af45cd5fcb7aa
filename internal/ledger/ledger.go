package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateLot signals an idempotent re-ingestion of an already known lot.
	ErrDuplicateLot = response.NewError(http.StatusConflict,
		response.ErrCodeDuplicateResource, "lot already present for identity key")
	// ErrOverConsumption signals a matcher bug: a consume request exceeded the
	// lot's remaining quantity. Fatal to the run.
	ErrOverConsumption = errors.New("consume quantity exceeds remaining lot quantity")
	// ErrLotNotFound signals a consume against a lot the ledger does not hold.
	ErrLotNotFound = errors.New("lot not found in ledger")
)

// Ledger holds the acquisition lots of one matching run, ordered per security
// by (acquisition_date, source_event_id). The ordering is the determinism
// contract: two runs over identical inputs walk lots in the same sequence.
type Ledger struct {
	lots     map[string][]*types.AcquisitionLot
	identity map[string]*types.AcquisitionLot
	byLotID  map[string]*types.AcquisitionLot
}

func NewLedger() *Ledger {
	return &Ledger{
		lots:     make(map[string][]*types.AcquisitionLot),
		identity: make(map[string]*types.AcquisitionLot),
		byLotID:  make(map[string]*types.AcquisitionLot),
	}
}

func identityKey(securityKey string, date string, sourceEventID string) string {
	return securityKey + "|" + date + "|" + sourceEventID
}

// AddLot registers a lot, keeping the per-security sequence ordered.
func (l *Ledger) AddLot(lot *types.AcquisitionLot) error {
	key := identityKey(lot.SecurityKey, lot.AcquisitionDate.Format("2006-01-02"), lot.SourceEventID)
	if _, exists := l.identity[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLot, key)
	}

	l.identity[key] = lot
	l.byLotID[lot.LotID] = lot

	seq := append(l.lots[lot.SecurityKey], lot)
	sort.SliceStable(seq, func(i, j int) bool {
		if !seq[i].AcquisitionDate.Equal(seq[j].AcquisitionDate) {
			return seq[i].AcquisitionDate.Before(seq[j].AcquisitionDate)
		}
		return seq[i].SourceEventID < seq[j].SourceEventID
	})
	l.lots[lot.SecurityKey] = seq

	return nil
}

// AvailableLots returns a fresh iterator over the security's lots that still
// have remaining quantity, oldest first. Each call restarts from the oldest
// open lot, so a caller can re-walk the sequence after consuming.
func (l *Ledger) AvailableLots(securityKey string) *LotIterator {
	return &LotIterator{seq: l.lots[securityKey]}
}

// Consume decrements a lot's remaining quantity. The lot is never removed:
// exhausted lots stay in the ledger for audit but drop out of iteration.
func (l *Ledger) Consume(lotID string, quantity decimal.Decimal) error {
	lot, ok := l.byLotID[lotID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLotNotFound, lotID)
	}
	if quantity.GreaterThan(lot.RemainingQuantity) {
		return fmt.Errorf("%w: lot %s has %s remaining, consume requested %s",
			ErrOverConsumption, lotID, lot.RemainingQuantity, quantity)
	}

	lot.RemainingQuantity = lot.RemainingQuantity.Sub(quantity)
	if lot.RemainingQuantity.IsZero() {
		lot.Status = "EXHAUSTED"
	}
	return nil
}

// Lots returns the full ordered sequence for a security, exhausted lots included.
func (l *Ledger) Lots(securityKey string) []*types.AcquisitionLot {
	return l.lots[securityKey]
}

// SecurityKeys returns all securities in the ledger in sorted order.
func (l *Ledger) SecurityKeys() []string {
	keys := make([]string, 0, len(l.lots))
	for key := range l.lots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RemainingUnits sums the open quantity across a security's lots.
func (l *Ledger) RemainingUnits(securityKey string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots[securityKey] {
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}

// LotIterator walks a security's open lots lazily in chronological order.
type LotIterator struct {
	seq []*types.AcquisitionLot
	pos int
}

// Next returns the next lot with remaining quantity, or nil when exhausted.
func (it *LotIterator) Next() *types.AcquisitionLot {
	for it.pos < len(it.seq) {
		lot := it.seq[it.pos]
		it.pos++
		if lot.RemainingQuantity.IsPositive() {
			return lot
		}
	}
	return nil
}
