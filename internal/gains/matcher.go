package gains

import (
	"fmt"

	"github.com/msgtosan/taxledger-api/internal/ledger"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/shopspring/decimal"
)

// PlannedMatch pairs a lot with the quantity a disposal takes from it.
type PlannedMatch struct {
	Lot      *types.AcquisitionLot
	Quantity decimal.Decimal
}

// MatchOutcome is the FIFO plan for one disposal. Unmatched carries the
// remainder when the ledger ran out of lots.
type MatchOutcome struct {
	Disposal  *types.DisposalEvent
	Matches   []PlannedMatch
	Unmatched decimal.Decimal
}

// Matcher consumes disposals against a ledger oldest-lot-first. Matching is
// two-phase: MatchDisposal plans without mutating so the classifier can
// reject the disposal as a whole, Commit applies the consumption.
type Matcher struct {
	ledger *ledger.Ledger
}

func NewMatcher(l *ledger.Ledger) *Matcher {
	return &Matcher{ledger: l}
}

// MatchDisposal walks the security's open lots in chronological order and
// plans the greedy FIFO split of the disposal quantity. Only lots acquired on
// or before the disposal date are eligible: a later repurchase cannot back a
// sale that happened before it, so the shortfall against earlier lots is
// reported as Unmatched rather than matched out of order. The ledger is not
// touched by planning.
func (m *Matcher) MatchDisposal(disposal *types.DisposalEvent) *MatchOutcome {
	outcome := &MatchOutcome{
		Disposal:  disposal,
		Unmatched: decimal.Zero,
	}

	remaining := disposal.Quantity
	it := m.ledger.AvailableLots(disposal.SecurityKey)
	for remaining.IsPositive() {
		lot := it.Next()
		if lot == nil {
			break
		}
		if lot.AcquisitionDate.After(disposal.DisposalDate) {
			// Lots are date-ordered, so everything from here on is too new.
			break
		}

		matched := decimal.Min(lot.RemainingQuantity, remaining)
		outcome.Matches = append(outcome.Matches, PlannedMatch{Lot: lot, Quantity: matched})
		remaining = remaining.Sub(matched)
	}

	outcome.Unmatched = remaining
	return outcome
}

// Commit consumes the planned quantities from the ledger. An over-consumption
// here means the plan and the ledger diverged, which is an internal bug and
// fatal to the run.
func (m *Matcher) Commit(outcome *MatchOutcome) error {
	for _, match := range outcome.Matches {
		if err := m.ledger.Consume(match.Lot.LotID, match.Quantity); err != nil {
			return fmt.Errorf("commit of disposal %s: %w", outcome.Disposal.DisposalID, err)
		}
	}
	return nil
}
