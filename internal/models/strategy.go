package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Strategy is a published trading strategy. Everything except Active is
// frozen at publish, including the stake an executor must lock.
type Strategy struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Creator string `gorm:"type:varchar(120);not null;index" json:"creator"`
	Title   string `gorm:"type:varchar(200);not null" json:"title"`

	// JSON array of rule strings handed to the verifier.
	Rules datatypes.JSON `gorm:"type:jsonb;not null" json:"rules"`

	StakeAmount        decimal.Decimal `gorm:"type:numeric(30,7);not null" json:"stake_amount"`
	ProfitSharePercent int             `gorm:"not null" json:"profit_share_percent"`
	Active             bool            `gorm:"not null;default:true;index" json:"active"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}
