package reconciliation

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/audit"
	"github.com/msgtosan/taxledger-api/internal/metrics"
	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/suspense"
	"github.com/msgtosan/taxledger-api/internal/truth"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service ingests golden statements and cross-correlates them against
// system-computed holdings and gains.
type Service struct {
	db       *Database
	truth    *truth.Service
	rules    *rules.Service
	suspense *suspense.Service
	audit    *audit.Recorder
}

func NewService(gormDB *gorm.DB, truthService *truth.Service, rulesService *rules.Service, suspenseService *suspense.Service) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		truth:    truthService,
		rules:    rulesService,
		suspense: suspenseService,
		audit:    audit.NewRecorder(gormDB),
	}
}

// IngestGoldenStatement stores an external statement and its positions,
// superseding any previously active statement for the same source/period.
func (s *Service) IngestGoldenStatement(input GoldenStatementInput, actor string) (*GoldenReference, error) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("source_type", input.SourceType).
		Str("period", input.Period).
		Logger()

	if _, _, err := types.PeriodRange(input.Period); err != nil {
		return nil, err
	}

	reference := &GoldenReference{
		ReferenceID:   "GLD_" + uuid.New().String(),
		SourceType:    input.SourceType,
		StatementDate: input.StatementDate,
		Period:        input.Period,
		Status:        ReferenceActive,
	}

	holdings := make([]GoldenHolding, 0, len(input.Holdings))
	for _, row := range input.Holdings {
		holdings = append(holdings, GoldenHolding{
			ReferenceID:  reference.ReferenceID,
			ISIN:         row.ISIN,
			FolioNumber:  row.FolioNumber,
			SchemeName:   row.SchemeName,
			AssetClass:   row.AssetClass,
			Units:        row.Units,
			MarketValue:  row.MarketValue,
			RealizedGain: row.RealizedGain,
			Currency:     row.Currency,
			FxRateToBase: row.FxRateToBase,
		})
		metrics.IngestRows.WithLabelValues("golden_holding", "accepted").Inc()
	}

	if err := s.db.SaveGoldenStatement(reference, holdings); err != nil {
		return nil, err
	}

	s.audit.Emit("golden_reference", reference.ReferenceID, "INGESTED", actor, map[string]interface{}{
		"source_type": reference.SourceType,
		"period":      reference.Period,
		"holdings":    len(holdings),
	})

	logger.Info().
		Str("reference_id", reference.ReferenceID).
		Int("holdings", len(holdings)).
		Msg("golden statement ingested")

	return reference, nil
}

// Reconcile compares system values against the highest-priority available
// golden source for a (metric, asset class, period) and records one event
// per security regardless of outcome.
func (s *Service) Reconcile(userID string, req ReconcileRequest) (*RunResponse, error) {
	runID := "REC_" + uuid.New().String()
	logger := log.With().
		Str("run_id", runID).
		Str("metric_type", req.MetricType).
		Str("asset_class", req.AssetClass).
		Str("period", req.Period).
		Str("service", "reconciliation").
		Logger()

	started := time.Now()
	logger.Info().Msg("starting reconciliation run")

	_, periodEnd, err := types.PeriodRange(req.Period)
	if err != nil {
		return nil, err
	}

	run := &ReconciliationRun{
		RunID:      runID,
		UserID:     userID,
		MetricType: req.MetricType,
		AssetClass: req.AssetClass,
		Period:     req.Period,
		Status:     RunStatusRunning,
		StartedAt:  started,
	}
	if err := s.db.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create run manifest: %w", err)
	}

	systemValues, err := s.systemValues(req.MetricType, req.AssetClass, req.Period, periodEnd)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	priorities, err := s.truth.Resolve(userID, req.MetricType, req.AssetClass)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	goldenValues, sourceUsed, err := s.goldenValues(priorities.Priorities, req.MetricType, req.AssetClass, req.Period)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}
	run.SourceType = sourceUsed

	logger.Debug().
		Int("system_securities", len(systemValues)).
		Int("golden_securities", len(goldenValues)).
		Str("source_used", sourceUsed).
		Strs("priorities", priorities.Priorities).
		Msg("loaded comparison sides")

	tolerance, err := s.rules.Tolerances(req.MetricType, req.AssetClass, periodEnd)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	correlator := NewCorrelator(tolerance.Absolute, tolerance.Percentage)
	comparisons := correlator.Correlate(systemValues, goldenValues)

	events := make([]ReconciliationEvent, 0, len(comparisons))
	totalDifference := decimal.Zero
	for _, comparison := range comparisons {
		event := ReconciliationEvent{
			EventID:       "EVT_" + uuid.New().String(),
			RunID:         runID,
			MetricType:    req.MetricType,
			AssetClass:    req.AssetClass,
			SecurityKey:   comparison.SecurityKey,
			Period:        req.Period,
			SystemValue:   comparison.SystemValue,
			GoldenValue:   comparison.GoldenValue,
			Difference:    comparison.Difference,
			ToleranceUsed: comparison.ToleranceUsed,
			SourceType:    sourceUsed,
			MatchResult:   comparison.Result,
			Status:        eventStatus(comparison.Result),
		}
		events = append(events, event)
		metrics.ReconciliationEvents.WithLabelValues(comparison.Result).Inc()
		totalDifference = totalDifference.Add(comparison.Difference.Abs())

		switch comparison.Result {
		case ResultExact:
			run.ExactCount++
		case ResultWithinTolerance:
			run.WithinToleranceCount++
		case ResultMismatch:
			run.MismatchCount++
			s.escalate(run, &event, tolerance, logger)
		case ResultMissingInSystem:
			run.MissingInSystemCount++
		case ResultMissingInGolden:
			run.MissingInGoldenCount++
		}
	}

	run.TotalDifference = totalDifference
	run.Status = RunStatusCompleted
	completed := time.Now()
	run.CompletedAt = &completed

	err = s.db.SaveRunResults(run, events, func(tx *gorm.DB) error {
		return s.audit.EmitTx(tx, "reconciliation_run", runID, "COMPLETED", userID, map[string]interface{}{
			"metric_type":      req.MetricType,
			"asset_class":      req.AssetClass,
			"period":           req.Period,
			"events":           len(events),
			"mismatches":       run.MismatchCount,
			"suspense_opened":  run.SuspenseOpened,
			"total_difference": totalDifference.String(),
		})
	})
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	metrics.RunDuration.WithLabelValues("reconciliation").Observe(time.Since(started).Seconds())

	logger.Info().
		Int("events", len(events)).
		Int("exact", run.ExactCount).
		Int("within_tolerance", run.WithinToleranceCount).
		Int("mismatches", run.MismatchCount).
		Int("missing_in_system", run.MissingInSystemCount).
		Int("missing_in_golden", run.MissingInGoldenCount).
		Msg("reconciliation run completed")

	return runResponse(run), nil
}

// escalate opens a suspense item for mismatches beyond the critical
// threshold. A duplicate open item is an expected idempotency rejection.
func (s *Service) escalate(run *ReconciliationRun, event *ReconciliationEvent, tolerance *rules.ToleranceRule, logger zerolog.Logger) {
	if !tolerance.EscalateToSuspense {
		return
	}
	if tolerance.Critical.IsPositive() && event.Difference.Abs().LessThan(tolerance.Critical) {
		return
	}

	item, err := s.suspense.Open(suspense.OpenParams{
		EventID:       event.EventID,
		SecurityKey:   event.SecurityKey,
		MetricType:    event.MetricType,
		AssetClass:    event.AssetClass,
		Period:        event.Period,
		SuspenseValue: event.Difference,
		Reason: fmt.Sprintf("reconciliation mismatch: system %s vs %s %s",
			event.SystemValue.String(), event.SourceType, event.GoldenValue.String()),
	})
	if err != nil {
		if errors.Is(err, suspense.ErrDuplicateSuspense) {
			logger.Debug().
				Str("security_key", event.SecurityKey).
				Msg("suspense item already open for mismatch")
			return
		}
		logger.Error().Err(err).
			Str("security_key", event.SecurityKey).
			Msg("failed to open suspense item")
		return
	}

	run.SuspenseOpened++
	logger.Warn().
		Str("security_key", event.SecurityKey).
		Str("item_id", item.ItemID).
		Str("difference", event.Difference.String()).
		Msg("mismatch escalated to suspense")
}

func (s *Service) failRun(run *ReconciliationRun, logger zerolog.Logger, cause error) error {
	logger.Error().Err(cause).Msg("reconciliation run failed")
	run.Status = RunStatusFailed
	if err := s.db.UpdateRun(run); err != nil {
		logger.Error().Err(err).Msg("failed to save failed run manifest")
	}
	return fmt.Errorf("reconciliation run %s failed: %w", run.RunID, cause)
}

// systemValues assembles the system side of a comparison for a metric.
func (s *Service) systemValues(metricType, assetClass, period string, periodEnd time.Time) (map[string]SideValue, error) {
	values := make(map[string]SideValue)

	switch metricType {
	case types.MetricHoldingUnits, types.MetricHoldingValue:
		lots, err := s.db.GetOpenLots(assetClass)
		if err != nil {
			return nil, err
		}
		units := make(map[string]decimal.Decimal)
		for _, lot := range lots {
			units[lot.SecurityKey] = units[lot.SecurityKey].Add(lot.RemainingQuantity)
		}

		if metricType == types.MetricHoldingUnits {
			for key, total := range units {
				values[key] = SideValue{Value: total, Present: true}
			}
			return values, nil
		}

		// HOLDING_VALUE: units times the latest known price; securities with
		// no price history fall back to average book cost.
		costBasis := make(map[string]decimal.Decimal)
		costUnits := make(map[string]decimal.Decimal)
		for _, lot := range lots {
			costBasis[lot.SecurityKey] = costBasis[lot.SecurityKey].Add(lot.UnitCost.Mul(lot.RemainingQuantity))
			costUnits[lot.SecurityKey] = costUnits[lot.SecurityKey].Add(lot.RemainingQuantity)
		}
		for key, total := range units {
			price, err := s.db.GetLatestPrice(key, periodEnd)
			if err != nil {
				return nil, err
			}
			if price != nil {
				values[key] = SideValue{Value: total.Mul(price.Price), Present: true}
			} else if costUnits[key].IsPositive() {
				values[key] = SideValue{Value: costBasis[key], Present: true}
			}
		}
		return values, nil

	case types.MetricRealizedGain:
		records, err := s.db.GetMatchRecordsForPeriod(period, assetClass)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			existing := values[record.SecurityKey]
			values[record.SecurityKey] = SideValue{
				Value:   existing.Value.Add(record.GrossGain),
				Present: true,
			}
		}
		return values, nil

	default:
		return nil, fmt.Errorf("unknown metric type %q", metricType)
	}
}

// goldenValues walks the priority chain and uses the first source with an
// active statement for the period. SYSTEM terminates the chain: reaching it
// means no external golden source exists and every system value stands.
func (s *Service) goldenValues(priorities []string, metricType, assetClass, period string) (map[string]SideValue, string, error) {
	for _, sourceType := range priorities {
		if sourceType == types.SourceSystem {
			break
		}

		reference, err := s.db.GetActiveReference(sourceType, period)
		if err != nil {
			return nil, "", err
		}
		if reference == nil {
			continue
		}

		holdings, err := s.db.GetHoldings(reference.ReferenceID, assetClass)
		if err != nil {
			return nil, "", err
		}

		values := make(map[string]SideValue)
		for i := range holdings {
			key := holdings[i].SecurityKey()
			if key == "" {
				// Unidentifiable position: reported under a sentinel key so
				// it surfaces as MISSING_IN_SYSTEM rather than being guessed.
				key = "UNIDENTIFIED/" + holdings[i].SchemeName
			}

			value := holdings[i].Units
			switch metricType {
			case types.MetricHoldingValue:
				value = holdings[i].MarketValue
			case types.MetricRealizedGain:
				value = holdings[i].RealizedGain
			}
			if holdings[i].FxRateToBase.IsPositive() && metricType != types.MetricHoldingUnits {
				value = value.Mul(holdings[i].FxRateToBase)
			}

			existing := values[key]
			values[key] = SideValue{Value: existing.Value.Add(value), Present: true}
		}
		return values, sourceType, nil
	}

	return map[string]SideValue{}, types.SourceSystem, nil
}

// Summary returns the reconciliation summary of the latest completed runs
// for an asset class and period.
func (s *Service) Summary(assetClass, period string) ([]SummaryResponse, error) {
	runs, err := s.db.GetLatestRuns(assetClass, period)
	if err != nil {
		return nil, err
	}

	summaries := make([]SummaryResponse, 0, len(runs))
	for _, run := range runs {
		total := run.ExactCount + run.WithinToleranceCount + run.MismatchCount +
			run.MissingInSystemCount + run.MissingInGoldenCount
		rate := 0.0
		if total > 0 {
			rate = float64(run.ExactCount+run.WithinToleranceCount) / float64(total)
		}
		summaries = append(summaries, SummaryResponse{
			AssetClass:      run.AssetClass,
			Period:          run.Period,
			MetricType:      run.MetricType,
			MatchRate:       rate,
			MismatchCount:   run.MismatchCount,
			TotalDifference: run.TotalDifference.String(),
		})
	}
	return summaries, nil
}

func runResponse(run *ReconciliationRun) *RunResponse {
	return &RunResponse{
		RunID:                run.RunID,
		MetricType:           run.MetricType,
		AssetClass:           run.AssetClass,
		Period:               run.Period,
		SourceType:           run.SourceType,
		Status:               run.Status,
		ExactCount:           run.ExactCount,
		WithinToleranceCount: run.WithinToleranceCount,
		MismatchCount:        run.MismatchCount,
		MissingInSystemCount: run.MissingInSystemCount,
		MissingInGoldenCount: run.MissingInGoldenCount,
		SuspenseOpened:       run.SuspenseOpened,
		TotalDifference:      run.TotalDifference.String(),
		Timestamp:            time.Now(),
	}
}

// GinHandlers contains HTTP handlers for reconciliation endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// IngestGoldenHandler handles POST requests with a golden statement
func (h *GinHandlers) IngestGoldenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input GoldenStatementInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		reference, err := h.service.IngestGoldenStatement(input, c.GetString("clientID"))
		response.Handle(c, reference, err)
	}
}

// ReconcileHandler handles POST requests to trigger a reconciliation run
// Requires internal authentication
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Reconcile(c.GetString("clientID"), req)
		response.Handle(c, result, err)
	}
}

// SummaryHandler handles GET requests for the reconciliation summary
func (h *GinHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		assetClass := c.Query("asset_class")
		period := c.Query("period")
		if assetClass == "" || period == "" {
			response.BadRequest(c, "asset_class and period are required")
			return
		}

		summaries, err := h.service.Summary(assetClass, period)
		response.Handle(c, summaries, err)
	}
}
