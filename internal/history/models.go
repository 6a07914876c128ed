package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CommandRecord is one entity command relayed to the dispatcher.
type CommandRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID   string         `gorm:"index:idx_entity_ts,priority:1" json:"entity_id"`
	CmdID      string         `json:"cmd_id"`
	Params     datatypes.JSON `gorm:"type:jsonb" json:"params,omitempty"`
	Code       int            `json:"code"`
	DurationMs int64          `json:"duration_ms"`
	TS         time.Time      `gorm:"index:idx_entity_ts,priority:2" json:"ts"`
}
