package rules

import (
	"fmt"
	"time"

	"github.com/msgtosan/taxledger-api/internal/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Service resolves versioned tax and tolerance rules. Lookups hit the rule
// tables through a small TTL cache since the same (class, date) pair is
// resolved thousands of times within one gains run.
type Service struct {
	db    *Database
	cache *gocache.Cache
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		cache: gocache.New(cacheTTL, cacheCleanup),
	}
}

// HoldingThresholdDays returns the long-term holding threshold in days for an
// asset class as of the given date.
func (s *Service) HoldingThresholdDays(assetClass string, asOf time.Time) (int, error) {
	key := fmt.Sprintf("holding:%s:%s", assetClass, asOf.Format("2006-01-02"))
	if cached, found := s.cache.Get(key); found {
		return cached.(int), nil
	}

	rule, err := s.db.GetHoldingPeriodRule(assetClass, asOf)
	if err != nil {
		return 0, fmt.Errorf("holding period rule for %s: %w", assetClass, err)
	}

	s.cache.Set(key, rule.ThresholdDays, gocache.DefaultExpiration)
	return rule.ThresholdDays, nil
}

// Grandfathering returns the grandfathering rule in effect for the asset
// class, or (nil, nil) when the class has no grandfathering regime.
func (s *Service) Grandfathering(assetClass string, asOf time.Time) (*GrandfatheringRule, error) {
	key := fmt.Sprintf("grandfathering:%s:%s", assetClass, asOf.Format("2006-01-02"))
	if cached, found := s.cache.Get(key); found {
		if cached == nil {
			return nil, nil
		}
		return cached.(*GrandfatheringRule), nil
	}

	rule, err := s.db.GetGrandfatheringRule(assetClass, asOf)
	if err == ErrNoRule {
		s.cache.Set(key, nil, gocache.DefaultExpiration)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, rule, gocache.DefaultExpiration)
	return rule, nil
}

// Tolerances returns the reconciliation tolerance rule for a metric and asset
// class as of the given date.
func (s *Service) Tolerances(metricType, assetClass string, asOf time.Time) (*ToleranceRule, error) {
	key := fmt.Sprintf("tolerance:%s:%s:%s", metricType, assetClass, asOf.Format("2006-01-02"))
	if cached, found := s.cache.Get(key); found {
		return cached.(*ToleranceRule), nil
	}

	rule, err := s.db.GetToleranceRule(metricType, assetClass, asOf)
	if err != nil {
		return nil, fmt.Errorf("tolerance rule for %s/%s: %w", metricType, assetClass, err)
	}

	s.cache.Set(key, rule, gocache.DefaultExpiration)
	return rule, nil
}

// ExemptionThreshold returns the per-period exemption for a classification
// bucket, or zero when the bucket carries no exemption.
func (s *Service) ExemptionThreshold(bucket string, asOf time.Time) (decimal.Decimal, error) {
	key := fmt.Sprintf("exemption:%s:%s", bucket, asOf.Format("2006-01-02"))
	if cached, found := s.cache.Get(key); found {
		return cached.(decimal.Decimal), nil
	}

	rule, err := s.db.GetExemptionRule(bucket, asOf)
	if err == ErrNoRule {
		s.cache.Set(key, decimal.Zero, gocache.DefaultExpiration)
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	s.cache.Set(key, rule.Threshold, gocache.DefaultExpiration)
	return rule.Threshold, nil
}

// CutoffFMV returns the fair market value of a security at the grandfathering
// cutoff. The boolean reports availability; a missing FMV is expected for
// thinly traded securities and is handled by the classifier, not here.
func (s *Service) CutoffFMV(securityKey string) (decimal.Decimal, bool, error) {
	key := "fmv:" + securityKey
	if cached, found := s.cache.Get(key); found {
		if cached == nil {
			return decimal.Zero, false, nil
		}
		return cached.(decimal.Decimal), true, nil
	}

	record, err := s.db.GetFMVRecord(securityKey)
	if err == ErrNoRule {
		s.cache.Set(key, nil, gocache.DefaultExpiration)
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	s.cache.Set(key, record.FMV, gocache.DefaultExpiration)
	return record.FMV, true, nil
}

// AddFMVRecord registers the cutoff FMV for a security.
func (s *Service) AddFMVRecord(securityKey string, cutoffDate time.Time, fmv decimal.Decimal) error {
	if err := s.db.CreateFMVRecord(&FMVRecord{
		SecurityKey: securityKey,
		CutoffDate:  cutoffDate,
		FMV:         fmv,
	}); err != nil {
		return err
	}
	s.cache.Delete("fmv:" + securityKey)
	return nil
}

// SeedDefaults installs the Indian-regime defaults when the rule tables are
// empty so a fresh database is immediately usable. All values remain
// overridable by inserting rows with newer effective windows.
func (s *Service) SeedDefaults() error {
	count, err := s.db.CountHoldingPeriodRules()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	log.Info().Str("service", "rules").Msg("seeding default rule tables")

	from := time.Date(2000, time.April, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2099, time.March, 31, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2018, time.January, 31, 0, 0, 0, 0, time.UTC)
	regime := time.Date(2018, time.April, 1, 0, 0, 0, 0, time.UTC)

	holding := []HoldingPeriodRule{
		{AssetClass: types.AssetClassEquity, ThresholdDays: 365, EffectiveFrom: from, EffectiveTo: to},
		{AssetClass: types.AssetClassMFEquity, ThresholdDays: 365, EffectiveFrom: from, EffectiveTo: to},
		{AssetClass: types.AssetClassMFDebt, ThresholdDays: 1095, EffectiveFrom: from, EffectiveTo: to},
		{AssetClass: types.AssetClassUnlisted, ThresholdDays: 1095, EffectiveFrom: from, EffectiveTo: to},
	}

	// Effective from the start of history, not the regime date: the rule
	// itself decides pre-regime disposals, so it must be visible to them.
	grandfathering := []GrandfatheringRule{
		{AssetClass: types.AssetClassEquity, CutoffDate: cutoff, RegimeEffectiveDate: regime, EffectiveFrom: from, EffectiveTo: to},
		{AssetClass: types.AssetClassMFEquity, CutoffDate: cutoff, RegimeEffectiveDate: regime, EffectiveFrom: from, EffectiveTo: to},
	}

	tolerances := []ToleranceRule{
		{MetricType: types.MetricHoldingUnits, AssetClass: "*", Absolute: decimal.RequireFromString("0.001"), Percentage: decimal.Zero, Critical: decimal.RequireFromString("1"), EscalateToSuspense: true, EffectiveFrom: from, EffectiveTo: to},
		{MetricType: types.MetricHoldingValue, AssetClass: "*", Absolute: decimal.RequireFromString("0.01"), Percentage: decimal.RequireFromString("0.001"), Critical: decimal.RequireFromString("1000"), EscalateToSuspense: true, EffectiveFrom: from, EffectiveTo: to},
		{MetricType: types.MetricRealizedGain, AssetClass: "*", Absolute: decimal.RequireFromString("1"), Percentage: decimal.RequireFromString("0.005"), Critical: decimal.RequireFromString("10000"), EscalateToSuspense: true, EffectiveFrom: from, EffectiveTo: to},
	}

	exemptions := []ExemptionRule{
		{Bucket: "LTCG_EQUITY", Threshold: decimal.RequireFromString("100000"), EffectiveFrom: regime, EffectiveTo: to},
	}

	return s.db.CreateDefaults(holding, grandfathering, tolerances, exemptions)
}
