package truth

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/msgtosan/taxledger-api/internal/audit"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service decides which golden source is authoritative for a metric and
// asset class. Pure policy lookup: it never touches golden or system data.
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

// Resolve returns the ordered source priorities for (metric, asset class):
// user override first, then the global default table, then the guaranteed
// terminal fallback [SYSTEM]. The returned list is never empty.
func (s *Service) Resolve(userID, metricType, assetClass string) (*ResolveResponse, error) {
	if userID != "" && userID != ScopeGlobal {
		row, err := s.db.GetPriority(userID, metricType, assetClass)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user override: %w", err)
		}
		if row != nil {
			return resolveResponse(metricType, assetClass, row.Priorities, "OVERRIDE"), nil
		}
	}

	row, err := s.db.GetPriority(ScopeGlobal, metricType, assetClass)
	if err != nil {
		return nil, fmt.Errorf("failed to look up global priority: %w", err)
	}
	if row != nil {
		return resolveResponse(metricType, assetClass, row.Priorities, "GLOBAL"), nil
	}

	return &ResolveResponse{
		MetricType: metricType,
		AssetClass: assetClass,
		Priorities: []string{types.SourceSystem},
		Source:     "FALLBACK",
	}, nil
}

// SetOverride replaces the priority list for one (metric, asset class) key in
// the given user's scope, recording the reason for audit.
func (s *Service) SetOverride(userID, metricType, assetClass string, priorities []string, reason string) error {
	if len(priorities) == 0 {
		return fmt.Errorf("priority list must not be empty")
	}
	for _, source := range priorities {
		switch source {
		case types.SourceRTACAS, types.SourceNSDLCAS, types.SourceCDSLCAS, types.SourceBroker, types.SourceSystem:
		default:
			return fmt.Errorf("unknown source type %q", source)
		}
	}

	row := &TruthPriority{
		Scope:      userID,
		MetricType: metricType,
		AssetClass: assetClass,
		Priorities: strings.Join(priorities, ","),
		Reason:     reason,
	}
	if err := s.db.UpsertPriority(row); err != nil {
		return fmt.Errorf("failed to store override: %w", err)
	}

	s.audit.Emit("truth_priority", userID+"/"+metricType+"/"+assetClass, "OVERRIDE_SET", userID, map[string]interface{}{
		"priorities": priorities,
		"reason":     reason,
	})

	log.Info().
		Str("service", "truth").
		Str("user_id", userID).
		Str("metric_type", metricType).
		Str("asset_class", assetClass).
		Strs("priorities", priorities).
		Msg("truth priority override set")

	return nil
}

// SeedDefaults installs the global default priority table on first start.
func (s *Service) SeedDefaults() error {
	count, err := s.db.CountGlobalPriorities()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	log.Info().Str("service", "truth").Msg("seeding global truth priority table")

	defaults := []TruthPriority{}
	holdingsChain := strings.Join([]string{types.SourceNSDLCAS, types.SourceCDSLCAS, types.SourceRTACAS, types.SourceBroker, types.SourceSystem}, ",")
	mfChain := strings.Join([]string{types.SourceRTACAS, types.SourceNSDLCAS, types.SourceBroker, types.SourceSystem}, ",")
	gainsChain := strings.Join([]string{types.SourceRTACAS, types.SourceBroker, types.SourceSystem}, ",")

	for _, metric := range []string{types.MetricHoldingUnits, types.MetricHoldingValue} {
		defaults = append(defaults,
			TruthPriority{Scope: ScopeGlobal, MetricType: metric, AssetClass: types.AssetClassEquity, Priorities: holdingsChain, Reason: "depository statements are authoritative for demat holdings"},
			TruthPriority{Scope: ScopeGlobal, MetricType: metric, AssetClass: types.AssetClassMFEquity, Priorities: mfChain, Reason: "RTA statements are authoritative for mutual fund folios"},
			TruthPriority{Scope: ScopeGlobal, MetricType: metric, AssetClass: types.AssetClassMFDebt, Priorities: mfChain, Reason: "RTA statements are authoritative for mutual fund folios"},
		)
	}
	for _, class := range []string{types.AssetClassEquity, types.AssetClassMFEquity, types.AssetClassMFDebt} {
		defaults = append(defaults, TruthPriority{
			Scope: ScopeGlobal, MetricType: types.MetricRealizedGain, AssetClass: class,
			Priorities: gainsChain, Reason: "RTA gain statements cross-check computed gains",
		})
	}

	return s.db.CreatePriorities(defaults)
}

func resolveResponse(metricType, assetClass, priorities, source string) *ResolveResponse {
	return &ResolveResponse{
		MetricType: metricType,
		AssetClass: assetClass,
		Priorities: strings.Split(priorities, ","),
		Source:     source,
	}
}

// GinHandlers contains HTTP handlers for truth resolution endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SetOverrideHandler handles POST requests to set a per-user priority override
func (h *GinHandlers) SetOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		userID := c.GetString("clientID")
		if userID == "" {
			response.Unauthorized(c, "client identity required")
			return
		}

		if err := h.service.SetOverride(userID, req.MetricType, req.AssetClass, req.Priorities, req.Reason); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, gin.H{"message": "override stored"})
	}
}

// ResolveHandler handles GET requests resolving the priority chain for a key
func (h *GinHandlers) ResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		metricType := c.Query("metric_type")
		assetClass := c.Query("asset_class")
		if metricType == "" || assetClass == "" {
			response.BadRequest(c, "metric_type and asset_class are required")
			return
		}

		result, err := h.service.Resolve(c.GetString("clientID"), metricType, assetClass)
		response.Handle(c, result, err)
	}
}
