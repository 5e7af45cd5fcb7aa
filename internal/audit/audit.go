package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Recorder writes immutable audit records alongside every mutation.
// Services call Emit explicitly after a successful write so the audit trail
// is visible in the code path rather than hidden behind database triggers.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Emit records a single audit entry. Audit failures are logged, never
// propagated: a missing audit row must not fail the business operation.
func (r *Recorder) Emit(entityType, entityID, action, actor string, details map[string]interface{}) {
	payload := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}

	record := &types.AuditRecord{
		AuditID:    "AUD_" + uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Details:    payload,
		CreatedAt:  time.Now(),
	}

	if err := r.db.Create(record).Error; err != nil {
		log.Error().
			Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("action", action).
			Msg("failed to write audit record")
	}
}

// EmitTx is the transactional variant used when the audit row must commit or
// roll back together with the mutation it describes.
func (r *Recorder) EmitTx(tx *gorm.DB, entityType, entityID, action, actor string, details map[string]interface{}) error {
	payload := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}

	record := &types.AuditRecord{
		AuditID:    "AUD_" + uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Details:    payload,
		CreatedAt:  time.Now(),
	}

	return tx.Create(record).Error
}
