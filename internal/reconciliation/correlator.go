package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SideValue is one side of a comparison; Present distinguishes a genuine
// zero from an absent record.
type SideValue struct {
	Value   decimal.Decimal
	Present bool
}

// Comparison is the classified outcome for one security key.
type Comparison struct {
	SecurityKey   string
	SystemValue   decimal.Decimal
	GoldenValue   decimal.Decimal
	Difference    decimal.Decimal
	ToleranceUsed decimal.Decimal
	Result        string
}

// Correlator classifies system-vs-golden value pairs against a tolerance.
// Pure computation: persistence and escalation belong to the service.
type Correlator struct {
	absolute   decimal.Decimal
	percentage decimal.Decimal
}

func NewCorrelator(absolute, percentage decimal.Decimal) *Correlator {
	return &Correlator{absolute: absolute, percentage: percentage}
}

// Correlate walks the union of system and golden keys in sorted order and
// emits exactly one comparison per key. A key known to either side always
// produces a record; silence is itself a defect.
func (c *Correlator) Correlate(system, golden map[string]SideValue) []Comparison {
	keys := make(map[string]struct{}, len(system)+len(golden))
	for key := range system {
		keys[key] = struct{}{}
	}
	for key := range golden {
		keys[key] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	comparisons := make([]Comparison, 0, len(sorted))
	for _, key := range sorted {
		comparisons = append(comparisons, c.compare(key, system[key], golden[key]))
	}
	return comparisons
}

func (c *Correlator) compare(key string, system, golden SideValue) Comparison {
	comparison := Comparison{SecurityKey: key}

	switch {
	case !golden.Present && system.Present:
		comparison.SystemValue = system.Value
		comparison.Result = ResultMissingInGolden
		return comparison
	case !system.Present && golden.Present:
		comparison.GoldenValue = golden.Value
		comparison.Result = ResultMissingInSystem
		return comparison
	}

	comparison.SystemValue = system.Value
	comparison.GoldenValue = golden.Value
	comparison.Difference = system.Value.Sub(golden.Value)

	// Effective tolerance is the larger of the absolute floor and the
	// percentage of the golden value.
	comparison.ToleranceUsed = decimal.Max(c.absolute, golden.Value.Abs().Mul(c.percentage))

	switch {
	case comparison.Difference.IsZero():
		comparison.Result = ResultExact
	case comparison.Difference.Abs().LessThanOrEqual(comparison.ToleranceUsed):
		comparison.Result = ResultWithinTolerance
	default:
		comparison.Result = ResultMismatch
	}
	return comparison
}

// eventStatus maps a match result onto the event lifecycle status.
func eventStatus(result string) string {
	switch result {
	case ResultExact, ResultWithinTolerance:
		return EventMatched
	case ResultMismatch:
		return EventMismatch
	default:
		return EventPending
	}
}
