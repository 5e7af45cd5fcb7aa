package gains

import (
	"errors"
	"fmt"
	"time"

	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/shopspring/decimal"
)

// ErrInvalidDateOrder signals a disposal dated before the lot it would
// consume. The offending disposal is skipped, not fatal to the run.
var ErrInvalidDateOrder = errors.New("disposal date precedes acquisition date")

const hoursPerDay = 24

// Classification is the tax view of one (lot, disposal, quantity) match.
type Classification struct {
	HoldingPeriodDays int
	IsLongTerm        bool
	Bucket            string
	CostBasisPerUnit  decimal.Decimal
	GrossGain         decimal.Decimal
	Flags             []string
}

// Classifier turns matched quantities into classified gains: holding period,
// long/short term, grandfathered cost basis, charge apportionment.
type Classifier struct {
	rules *rules.Service
}

func NewClassifier(rulesService *rules.Service) *Classifier {
	return &Classifier{rules: rulesService}
}

// Classify computes the classified gain for matchedQuantity units flowing
// from lot to disposal.
func (c *Classifier) Classify(lot *types.AcquisitionLot, disposal *types.DisposalEvent, matchedQuantity decimal.Decimal) (*Classification, error) {
	if disposal.DisposalDate.Before(lot.AcquisitionDate) {
		return nil, fmt.Errorf("%w: disposal %s dated %s, lot %s dated %s",
			ErrInvalidDateOrder,
			disposal.DisposalID, disposal.DisposalDate.Format("2006-01-02"),
			lot.LotID, lot.AcquisitionDate.Format("2006-01-02"))
	}

	holdingDays := int(disposal.DisposalDate.Sub(lot.AcquisitionDate).Hours() / hoursPerDay)

	thresholdDays, err := c.rules.HoldingThresholdDays(disposal.AssetClass, disposal.DisposalDate)
	if err != nil {
		return nil, err
	}

	result := &Classification{
		HoldingPeriodDays: holdingDays,
		IsLongTerm:        holdingDays >= thresholdDays,
	}
	result.Bucket = bucketFor(result.IsLongTerm, disposal.AssetClass)

	costBasis, flags, err := c.resolveCostBasis(lot, disposal)
	if err != nil {
		return nil, err
	}
	result.CostBasisPerUnit = costBasis
	result.Flags = flags

	// A pre-regime disposal is fully exempt: the gain is zero outright, so
	// charge apportionment must not turn it into a loss.
	for _, flag := range flags {
		if flag == types.FlagPreRegimeDisposal {
			result.GrossGain = decimal.Zero
			return result, nil
		}
	}

	// Charges are apportioned by the matched share of each side.
	charges := decimal.Zero
	if disposal.Quantity.IsPositive() {
		charges = charges.Add(disposal.DisposalCharges.Mul(matchedQuantity).Div(disposal.Quantity))
	}
	if lot.OriginalQuantity.IsPositive() {
		charges = charges.Add(lot.AcquisitionCharges.Mul(matchedQuantity).Div(lot.OriginalQuantity))
	}

	result.GrossGain = matchedQuantity.
		Mul(disposal.UnitProceeds.Sub(costBasis)).
		Sub(charges)

	return result, nil
}

// resolveCostBasis applies the grandfathering rules when the lot predates the
// configured cutoff for its asset class.
func (c *Classifier) resolveCostBasis(lot *types.AcquisitionLot, disposal *types.DisposalEvent) (decimal.Decimal, []string, error) {
	rule, err := c.rules.Grandfathering(disposal.AssetClass, disposal.DisposalDate)
	if err != nil {
		return decimal.Zero, nil, err
	}

	if rule == nil || !lot.AcquisitionDate.Before(rule.CutoffDate) {
		return lot.UnitCost, nil, nil
	}

	// Disposals before the regime took effect are fully exempt: a cost basis
	// equal to proceeds produces a nil gain.
	if disposal.DisposalDate.Before(rule.RegimeEffectiveDate) {
		return disposal.UnitProceeds, []string{types.FlagPreRegimeDisposal}, nil
	}

	fmv, available, err := c.rules.CutoffFMV(lot.SecurityKey)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if !available {
		// Conservative fallback: original cost, flagged for review.
		return lot.UnitCost, []string{types.FlagGrandfatheringFMVMissing}, nil
	}

	// max(unit_cost, min(fmv, unit_proceeds))
	basis := decimal.Max(lot.UnitCost, decimal.Min(fmv, disposal.UnitProceeds))
	return basis, nil, nil
}

func bucketFor(isLongTerm bool, assetClass string) string {
	prefix := "STCG"
	if isLongTerm {
		prefix = "LTCG"
	}

	group := "EQUITY"
	switch assetClass {
	case types.AssetClassMFDebt:
		group = "DEBT"
	case types.AssetClassUnlisted:
		group = "UNLISTED"
	}

	return prefix + "_" + group
}

// ExemptionTracker consumes the per-period exemption threshold across one
// computation run. The exemption is applied once per (bucket, period), not
// once per match record, so callers feed records through a single tracker.
type ExemptionTracker struct {
	rules     *rules.Service
	remaining map[string]decimal.Decimal
}

func NewExemptionTracker(rulesService *rules.Service) *ExemptionTracker {
	return &ExemptionTracker{
		rules:     rulesService,
		remaining: make(map[string]decimal.Decimal),
	}
}

// Apply returns the taxable portion of a classified gain after consuming
// whatever exemption headroom the (bucket, period) pair still has. Losses and
// short-term buckets pass through untouched when no exemption is configured.
func (t *ExemptionTracker) Apply(bucket, period string, gain decimal.Decimal, asOf time.Time) (decimal.Decimal, error) {
	if !gain.IsPositive() {
		return gain, nil
	}

	key := bucket + ":" + period
	headroom, tracked := t.remaining[key]
	if !tracked {
		threshold, err := t.rules.ExemptionThreshold(bucket, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		headroom = threshold
	}

	exempted := decimal.Min(gain, headroom)
	t.remaining[key] = headroom.Sub(exempted)
	return gain.Sub(exempted), nil
}
