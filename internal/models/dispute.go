package models

import (
	"time"

	"gorm.io/datatypes"
)

// Dispute is a creator's challenge of an approved execution. At most one
// exists per execution.
type Dispute struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID uint64 `gorm:"not null;uniqueIndex" json:"execution_id"`
	Challenger  string `gorm:"type:varchar(120);not null" json:"challenger"`
	ReasonCode  int    `gorm:"not null" json:"reason_code"`
	Details     string `gorm:"type:text" json:"details"`

	Resolution          string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"resolution"`
	SecondaryConfidence int            `gorm:"not null;default:0" json:"secondary_confidence"`
	ResolutionReason    string         `gorm:"type:text" json:"resolution_reason"`
	Evidence            datatypes.JSON `gorm:"type:jsonb" json:"evidence,omitempty"`
	ResolvedBy          string         `gorm:"type:varchar(120)" json:"resolved_by,omitempty"`

	RaisedAt   int64      `gorm:"not null" json:"raised_at"`
	ResolvedAt *time.Time `gorm:"type:timestamptz" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Dispute) TableName() string {
	return "disputes"
}
