package gains

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/audit"
	"github.com/msgtosan/taxledger-api/internal/ledger"
	"github.com/msgtosan/taxledger-api/internal/metrics"
	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service runs the FIFO matching and gain classification pipeline.
type Service struct {
	db         *Database
	rules      *rules.Service
	classifier *Classifier
	audit      *audit.Recorder
}

func NewService(gormDB *gorm.DB, rulesService *rules.Service) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		rules:      rulesService,
		classifier: NewClassifier(rulesService),
		audit:      audit.NewRecorder(gormDB),
	}
}

// RunGains replays every disposal up to the end of the given period against
// the full lot history, producing classified match records. Disposals within
// one security are processed in (disposal_date, source_event_id) order;
// securities are independent. The whole outcome commits in one transaction.
func (s *Service) RunGains(period, assetClass string) (*RunResponse, error) {
	runID := "RUN_" + uuid.New().String()
	logger := log.With().
		Str("run_id", runID).
		Str("period", period).
		Str("asset_class", assetClass).
		Str("service", "gains").
		Logger()

	started := time.Now()
	logger.Info().Msg("starting gains run")

	_, periodEnd, err := types.PeriodRange(period)
	if err != nil {
		return nil, err
	}

	run := &GainsRun{
		RunID:      runID,
		Period:     period,
		AssetClass: assetClass,
		Status:     RunStatusRunning,
		StartedAt:  started,
	}
	if err := s.db.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create run manifest: %w", err)
	}

	lots, err := s.db.GetLots(assetClass)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}
	disposals, err := s.db.GetDisposalsUpTo(assetClass, periodEnd)
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	logger.Debug().
		Int("lots", len(lots)).
		Int("disposals", len(disposals)).
		Msg("loaded inputs")

	lotLedger := ledger.NewLedger()
	for i := range lots {
		// Reset to the original quantity: a run always replays consumption
		// from scratch so re-runs over identical inputs are identical.
		lots[i].RemainingQuantity = lots[i].OriginalQuantity
		lots[i].Status = "OPEN"
		if err := lotLedger.AddLot(&lots[i]); err != nil {
			return nil, s.failRun(run, logger, err)
		}
	}

	matcher := NewMatcher(lotLedger)
	exemptions := NewExemptionTracker(s.rules)

	var records []types.MatchRecord
	var touchedDisposals []*types.DisposalEvent
	taxableByBucket := make(map[string]decimal.Decimal)

	for i := range disposals {
		disposal := &disposals[i]
		run.DisposalsProcessed++

		outcome := matcher.MatchDisposal(disposal)

		disposalRecords, skip, err := s.classifyOutcome(runID, outcome, exemptions, taxableByBucket, logger)
		if err != nil {
			return nil, s.failRun(run, logger, err)
		}
		if skip {
			disposal.Status = "SKIPPED_INVALID_DATE"
			touchedDisposals = append(touchedDisposals, disposal)
			run.DisposalsSkipped++
			continue
		}

		// Consumption happens only after the whole disposal classified cleanly.
		if err := matcher.Commit(outcome); err != nil {
			// Ledger inconsistency, not bad input: abort and roll back.
			return nil, s.failRun(run, logger, err)
		}

		if outcome.Unmatched.IsPositive() {
			disposal.Status = types.MatchStatusInsufficientLots
			run.DisposalsInsufficient++
			run.FlaggedRecordCount++
			metrics.MatchRecords.WithLabelValues(types.MatchStatusInsufficientLots).Inc()
			disposalRecords = append(disposalRecords, types.MatchRecord{
				MatchID:         "MTC_" + uuid.New().String(),
				RunID:           runID,
				DisposalID:      disposal.DisposalID,
				SecurityKey:     disposal.SecurityKey,
				AssetClass:      disposal.AssetClass,
				Period:          types.PeriodForDate(disposal.DisposalDate),
				MatchedQuantity: outcome.Unmatched,
				Status:          types.MatchStatusInsufficientLots,
			})
			logger.Warn().
				Str("disposal_id", disposal.DisposalID).
				Str("security_key", disposal.SecurityKey).
				Str("unmatched_quantity", outcome.Unmatched.String()).
				Msg("lots exhausted before disposal quantity satisfied")
		} else {
			disposal.Status = "MATCHED"
			run.DisposalsMatched++
		}

		for i := range disposalRecords {
			if disposalRecords[i].Flags != "" {
				run.FlaggedRecordCount++
			}
		}

		touchedDisposals = append(touchedDisposals, disposal)
		records = append(records, disposalRecords...)
	}

	run.MatchRecordCount = len(records)
	run.Status = RunStatusCompleted
	completed := time.Now()
	run.CompletedAt = &completed

	bucketTotals := make(map[string]string, len(taxableByBucket))
	for key, total := range taxableByBucket {
		bucketTotals[key] = total.String()
	}
	if encoded, err := json.Marshal(bucketTotals); err == nil {
		run.TaxableByBucket = string(encoded)
	}

	touchedLots := make([]*types.AcquisitionLot, 0, len(lots))
	for i := range lots {
		touchedLots = append(touchedLots, &lots[i])
	}

	err = s.db.SaveRunResults(run, records, touchedLots, touchedDisposals, func(tx *gorm.DB) error {
		return s.audit.EmitTx(tx, "gains_run", runID, "COMPLETED", "system", map[string]interface{}{
			"period":              period,
			"disposals_processed": run.DisposalsProcessed,
			"match_records":       run.MatchRecordCount,
			"flagged_records":     run.FlaggedRecordCount,
		})
	})
	if err != nil {
		return nil, s.failRun(run, logger, err)
	}

	metrics.RunDuration.WithLabelValues("gains").Observe(time.Since(started).Seconds())

	logger.Info().
		Int("disposals_processed", run.DisposalsProcessed).
		Int("disposals_matched", run.DisposalsMatched).
		Int("disposals_insufficient", run.DisposalsInsufficient).
		Int("disposals_skipped", run.DisposalsSkipped).
		Int("match_records", run.MatchRecordCount).
		Msg("gains run completed")

	return runResponse(run, bucketTotals), nil
}

// classifyOutcome classifies every planned match of a disposal. A date-order
// violation rejects the disposal as a whole (skip=true) before any lot is
// consumed; other errors are structural and abort the run.
func (s *Service) classifyOutcome(runID string, outcome *MatchOutcome, exemptions *ExemptionTracker, taxableByBucket map[string]decimal.Decimal, logger zerolog.Logger) ([]types.MatchRecord, bool, error) {
	disposal := outcome.Disposal
	disposalPeriod := types.PeriodForDate(disposal.DisposalDate)

	var records []types.MatchRecord
	for _, match := range outcome.Matches {
		classification, err := s.classifier.Classify(match.Lot, disposal, match.Quantity)
		if errors.Is(err, ErrInvalidDateOrder) {
			logger.Warn().
				Err(err).
				Str("disposal_id", disposal.DisposalID).
				Msg("disposal skipped: invalid date order")
			return nil, true, nil
		}
		if err != nil {
			return nil, false, err
		}

		taxable, err := exemptions.Apply(classification.Bucket, disposalPeriod, classification.GrossGain, disposal.DisposalDate)
		if err != nil {
			return nil, false, err
		}

		bucketKey := classification.Bucket + ":" + disposalPeriod
		taxableByBucket[bucketKey] = taxableByBucket[bucketKey].Add(taxable)

		record := types.MatchRecord{
			MatchID:           "MTC_" + uuid.New().String(),
			RunID:             runID,
			LotID:             match.Lot.LotID,
			DisposalID:        disposal.DisposalID,
			SecurityKey:       disposal.SecurityKey,
			AssetClass:        disposal.AssetClass,
			Period:            disposalPeriod,
			MatchedQuantity:   match.Quantity,
			HoldingPeriodDays: classification.HoldingPeriodDays,
			IsLongTerm:        classification.IsLongTerm,
			CostBasisPerUnit:  classification.CostBasisPerUnit,
			GrossGain:         classification.GrossGain,
			TaxableGain:       taxable,
			Status:            types.MatchStatusMatched,
			Flags:             strings.Join(classification.Flags, ","),
		}
		metrics.MatchRecords.WithLabelValues(types.MatchStatusMatched).Inc()
		records = append(records, record)
	}

	return records, false, nil
}

func (s *Service) failRun(run *GainsRun, logger zerolog.Logger, cause error) error {
	logger.Error().Err(cause).Msg("gains run failed")
	run.Status = RunStatusFailed
	run.FailureReason = cause.Error()
	if err := s.db.UpdateRun(run); err != nil {
		logger.Error().Err(err).Msg("failed to save failed run manifest")
	}
	return fmt.Errorf("gains run %s failed: %w", run.RunID, cause)
}

// GainsForPeriod returns the classified match records of the latest completed
// run covering the period.
func (s *Service) GainsForPeriod(period, assetClass string) ([]types.MatchRecord, error) {
	return s.db.GetLatestRunMatchRecords(period, assetClass)
}

// GetRun returns a run manifest.
func (s *Service) GetRun(runID string) (*RunResponse, error) {
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, err
	}

	var bucketTotals map[string]string
	if run.TaxableByBucket != "" {
		_ = json.Unmarshal([]byte(run.TaxableByBucket), &bucketTotals)
	}
	return runResponse(run, bucketTotals), nil
}

func runResponse(run *GainsRun, bucketTotals map[string]string) *RunResponse {
	return &RunResponse{
		RunID:                 run.RunID,
		Period:                run.Period,
		AssetClass:            run.AssetClass,
		Status:                run.Status,
		DisposalsProcessed:    run.DisposalsProcessed,
		DisposalsMatched:      run.DisposalsMatched,
		DisposalsInsufficient: run.DisposalsInsufficient,
		DisposalsSkipped:      run.DisposalsSkipped,
		MatchRecordCount:      run.MatchRecordCount,
		FlaggedRecordCount:    run.FlaggedRecordCount,
		TaxableByBucket:       bucketTotals,
		Timestamp:             time.Now(),
	}
}

// GinHandlers contains HTTP handlers for gains endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RunGainsHandler handles POST requests to trigger a gains run
// Requires internal authentication
func (h *GinHandlers) RunGainsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.RunGains(req.Period, req.AssetClass)
		response.Handle(c, result, err)
	}
}

// GetGainsHandler handles GET requests for classified gains of a period
func (h *GinHandlers) GetGainsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period := c.Query("period")
		if period == "" {
			response.BadRequest(c, "period is required")
			return
		}

		records, err := h.service.GainsForPeriod(period, c.Query("asset_class"))
		response.Handle(c, records, err)
	}
}

// GetRunHandler handles GET requests for a run manifest
func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.GetRun(c.Param("run_id"))
		response.Handle(c, result, err)
	}
}
