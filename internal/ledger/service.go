package ledger

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/audit"
	"github.com/msgtosan/taxledger-api/internal/metrics"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service ingests acquisition and disposal events from external parsers.
type Service struct {
	db    *Database
	audit *audit.Recorder
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		audit: audit.NewRecorder(gormDB),
	}
}

// IngestLots stores a batch of acquisition lots. Each row is idempotent on
// (security_key, acquisition_date, source_event_id): known rows are rejected
// individually without failing the batch.
func (s *Service) IngestLots(inputs []LotInput, actor string) (*IngestResult, error) {
	logger := log.With().
		Str("service", "ledger").
		Int("rows", len(inputs)).
		Logger()

	logger.Info().Msg("ingesting acquisition lots")

	result := &IngestResult{}
	for _, input := range inputs {
		existing, err := s.db.FindLotByIdentity(input.SecurityKey, input.AcquisitionDate, input.SourceEventID)
		if err != nil {
			return nil, fmt.Errorf("failed to check lot identity: %w", err)
		}
		if existing != nil {
			metrics.IngestRows.WithLabelValues("lot", "rejected").Inc()
			result.Rejected = append(result.Rejected, RejectedRow{
				SourceEventID: input.SourceEventID,
				Reason:        ErrDuplicateLot.Error(),
			})
			logger.Debug().
				Str("security_key", input.SecurityKey).
				Str("source_event_id", input.SourceEventID).
				Msg("duplicate lot rejected")
			continue
		}

		lot := &types.AcquisitionLot{
			LotID:              "LOT_" + uuid.New().String(),
			SecurityKey:        input.SecurityKey,
			AssetClass:         input.AssetClass,
			AcquisitionDate:    input.AcquisitionDate,
			SourceEventID:      input.SourceEventID,
			OriginalQuantity:   input.Quantity,
			RemainingQuantity:  input.Quantity,
			UnitCost:           input.UnitCost,
			AcquisitionCharges: input.AcquisitionCharges,
			Status:             "OPEN",
		}

		if err := s.db.CreateLot(lot); err != nil {
			return nil, fmt.Errorf("failed to create lot: %w", err)
		}

		metrics.IngestRows.WithLabelValues("lot", "accepted").Inc()
		result.Accepted++
		s.audit.Emit("acquisition_lot", lot.LotID, "INGESTED", actor, map[string]interface{}{
			"security_key":    lot.SecurityKey,
			"source_event_id": lot.SourceEventID,
			"quantity":        lot.OriginalQuantity.String(),
		})
	}

	logger.Info().
		Int("accepted", result.Accepted).
		Int("rejected", len(result.Rejected)).
		Msg("lot ingestion completed")

	return result, nil
}

// IngestDisposals stores a batch of disposal events with the same per-row
// idempotency contract as IngestLots.
func (s *Service) IngestDisposals(inputs []DisposalInput, actor string) (*IngestResult, error) {
	logger := log.With().
		Str("service", "ledger").
		Int("rows", len(inputs)).
		Logger()

	logger.Info().Msg("ingesting disposal events")

	result := &IngestResult{}
	for _, input := range inputs {
		existing, err := s.db.FindDisposalByIdentity(input.SecurityKey, input.DisposalDate, input.SourceEventID)
		if err != nil {
			return nil, fmt.Errorf("failed to check disposal identity: %w", err)
		}
		if existing != nil {
			metrics.IngestRows.WithLabelValues("disposal", "rejected").Inc()
			result.Rejected = append(result.Rejected, RejectedRow{
				SourceEventID: input.SourceEventID,
				Reason:        "disposal already present for identity key",
			})
			continue
		}

		disposal := &types.DisposalEvent{
			DisposalID:      "DSP_" + uuid.New().String(),
			SecurityKey:     input.SecurityKey,
			AssetClass:      input.AssetClass,
			DisposalDate:    input.DisposalDate,
			SourceEventID:   input.SourceEventID,
			Quantity:        input.Quantity,
			UnitProceeds:    input.UnitProceeds,
			DisposalCharges: input.DisposalCharges,
			Status:          "PENDING",
		}

		if err := s.db.CreateDisposal(disposal); err != nil {
			return nil, fmt.Errorf("failed to create disposal: %w", err)
		}

		metrics.IngestRows.WithLabelValues("disposal", "accepted").Inc()
		result.Accepted++
		s.audit.Emit("disposal_event", disposal.DisposalID, "INGESTED", actor, map[string]interface{}{
			"security_key":    disposal.SecurityKey,
			"source_event_id": disposal.SourceEventID,
			"quantity":        disposal.Quantity.String(),
		})
	}

	logger.Info().
		Int("accepted", result.Accepted).
		Int("rejected", len(result.Rejected)).
		Msg("disposal ingestion completed")

	return result, nil
}

// IngestPrices stores a batch of end-of-day prices, idempotent on
// (security_key, price_date).
func (s *Service) IngestPrices(inputs []PriceInput, actor string) (*IngestResult, error) {
	logger := log.With().
		Str("service", "ledger").
		Int("rows", len(inputs)).
		Logger()

	logger.Info().Msg("ingesting security prices")

	result := &IngestResult{}
	for _, input := range inputs {
		existing, err := s.db.FindPriceByIdentity(input.SecurityKey, input.PriceDate)
		if err != nil {
			return nil, fmt.Errorf("failed to check price identity: %w", err)
		}
		if existing != nil {
			metrics.IngestRows.WithLabelValues("price", "rejected").Inc()
			result.Rejected = append(result.Rejected, RejectedRow{
				SourceEventID: input.SecurityKey + "@" + input.PriceDate.Format("2006-01-02"),
				Reason:        "price already present for date",
			})
			continue
		}

		price := &types.SecurityPrice{
			SecurityKey: input.SecurityKey,
			PriceDate:   input.PriceDate,
			Price:       input.Price,
		}
		if err := s.db.CreatePrice(price); err != nil {
			return nil, fmt.Errorf("failed to create price: %w", err)
		}

		metrics.IngestRows.WithLabelValues("price", "accepted").Inc()
		result.Accepted++
	}

	logger.Info().
		Int("accepted", result.Accepted).
		Int("rejected", len(result.Rejected)).
		Msg("price ingestion completed")

	return result, nil
}

// BuildLedger loads all lots for an asset class into an in-memory ledger,
// ready for a matching run.
func (s *Service) BuildLedger(assetClass string) (*Ledger, error) {
	lots, err := s.db.GetLots(assetClass)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}

	l := NewLedger()
	for i := range lots {
		if err := l.AddLot(&lots[i]); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// GinHandlers contains HTTP handlers for ingestion endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// IngestLotsHandler handles POST requests with a batch of acquisition lots
func (h *GinHandlers) IngestLotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var inputs []LotInput
		if err := c.ShouldBindJSON(&inputs); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(inputs) == 0 {
			response.BadRequest(c, "empty batch")
			return
		}

		result, err := h.service.IngestLots(inputs, c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}

// IngestDisposalsHandler handles POST requests with a batch of disposal events
func (h *GinHandlers) IngestDisposalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var inputs []DisposalInput
		if err := c.ShouldBindJSON(&inputs); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(inputs) == 0 {
			response.BadRequest(c, "empty batch")
			return
		}

		result, err := h.service.IngestDisposals(inputs, c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}

// IngestPricesHandler handles POST requests with a batch of security prices
func (h *GinHandlers) IngestPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var inputs []PriceInput
		if err := c.ShouldBindJSON(&inputs); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(inputs) == 0 {
			response.BadRequest(c, "empty batch")
			return
		}

		result, err := h.service.IngestPrices(inputs, c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}
