package suspense

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/audit"
	"github.com/msgtosan/taxledger-api/internal/metrics"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateSuspense guards against duplicate OPEN items for the same
	// (security, metric, period) across repeated reconciliation runs.
	ErrDuplicateSuspense = response.NewError(http.StatusConflict,
		response.ErrCodeDuplicateResource, "open suspense item already exists for this discrepancy")
	// ErrInvalidTransition rejects any transition out of a terminal state.
	ErrInvalidTransition = response.NewError(http.StatusUnprocessableEntity,
		response.ErrCodeUnprocessable, "suspense item is not open")
)

// Service tracks unresolved reconciliation mismatches through their lifecycle.
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

// Open creates an OPEN suspense item for a reconciliation event. Fails with
// ErrDuplicateSuspense when the discrepancy is already parked.
func (s *Service) Open(params OpenParams) (*SuspenseItem, error) {
	existing, err := s.db.FindOpenItem(params.SecurityKey, params.MetricType, params.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to check for open item: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrDuplicateSuspense,
			params.SecurityKey, params.MetricType, params.Period)
	}

	item := &SuspenseItem{
		ItemID:        "SUS_" + uuid.New().String(),
		EventID:       params.EventID,
		SecurityKey:   params.SecurityKey,
		MetricType:    params.MetricType,
		AssetClass:    params.AssetClass,
		Period:        params.Period,
		SuspenseValue: params.SuspenseValue,
		Reason:        params.Reason,
		Status:        StatusOpen,
	}

	if err := s.db.CreateItem(item); err != nil {
		return nil, fmt.Errorf("failed to create suspense item: %w", err)
	}

	metrics.SuspenseOpened.Inc()
	s.audit.Emit("suspense_item", item.ItemID, "OPENED", "system", map[string]interface{}{
		"event_id":       item.EventID,
		"security_key":   item.SecurityKey,
		"metric_type":    item.MetricType,
		"period":         item.Period,
		"suspense_value": item.SuspenseValue.String(),
	})

	log.Info().
		Str("service", "suspense").
		Str("item_id", item.ItemID).
		Str("security_key", item.SecurityKey).
		Str("metric_type", item.MetricType).
		Str("period", item.Period).
		Msg("suspense item opened")

	return item, nil
}

// Resolve closes an OPEN item with a resolution note. Terminal.
func (s *Service) Resolve(itemID, note string) (*SuspenseItem, error) {
	return s.close(itemID, StatusResolved, note, "RESOLVED")
}

// WriteOff closes an OPEN item as written off. Terminal.
func (s *Service) WriteOff(itemID, reason string) (*SuspenseItem, error) {
	return s.close(itemID, StatusWrittenOff, reason, "WRITTEN_OFF")
}

func (s *Service) close(itemID, status, note, action string) (*SuspenseItem, error) {
	item, err := s.db.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, itemID, item.Status)
	}

	now := time.Now()
	item.Status = status
	item.ResolutionNote = note
	item.ClosedAt = &now

	if err := s.db.UpdateItem(item); err != nil {
		return nil, fmt.Errorf("failed to update suspense item: %w", err)
	}

	s.audit.Emit("suspense_item", item.ItemID, action, "system", map[string]interface{}{
		"note": note,
	})
	return item, nil
}

// OpenItems lists OPEN items, optionally filtered by asset class.
func (s *Service) OpenItems(assetClass string) ([]SuspenseItem, error) {
	return s.db.ListItems(StatusOpen, assetClass)
}

// GinHandlers contains HTTP handlers for suspense endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListOpenHandler handles GET requests for open suspense items
func (h *GinHandlers) ListOpenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.service.OpenItems(c.Query("asset_class"))
		response.Handle(c, items, err)
	}
}

// ResolveHandler handles POST requests to resolve a suspense item
func (h *GinHandlers) ResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DispositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		item, err := h.service.Resolve(c.Param("item_id"), req.Note)
		response.Handle(c, item, err)
	}
}

// WriteOffHandler handles POST requests to write off a suspense item
func (h *GinHandlers) WriteOffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DispositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		item, err := h.service.WriteOff(c.Param("item_id"), req.Note)
		response.Handle(c, item, err)
	}
}
