package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent records a state-changing API call when the local audit sink is
// selected.
type AuditEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Action    string         `gorm:"type:varchar(80);not null;index" json:"action"`
	Level     string         `gorm:"type:varchar(10);not null" json:"level"`
	Actor     string         `gorm:"type:varchar(120);index" json:"actor"`
	Details   datatypes.JSON `gorm:"type:jsonb" json:"details"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
