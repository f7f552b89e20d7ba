package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardStream vests TotalAmount linearly between StartTime and EndTime.
// Earned is never stored.
type RewardStream struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID uint64 `gorm:"not null;uniqueIndex" json:"execution_id"`
	Executor    string `gorm:"type:varchar(120);not null;index" json:"executor"`

	TotalAmount  decimal.Decimal `gorm:"type:numeric(30,7);not null" json:"total_amount"`
	StakeRefund  decimal.Decimal `gorm:"type:numeric(30,7);not null" json:"stake_refund"`
	TraderProfit decimal.Decimal `gorm:"type:numeric(30,7);not null;default:0" json:"trader_profit"`
	CreatorShare decimal.Decimal `gorm:"type:numeric(30,7);not null;default:0" json:"creator_share"`
	Withdrawn    decimal.Decimal `gorm:"type:numeric(30,7);not null;default:0" json:"withdrawn"`

	// A reserved payout whose ledger call is not yet confirmed. It counts
	// against the stream until it is settled into Withdrawn or released.
	PendingAmount  decimal.Decimal `gorm:"type:numeric(30,7);not null;default:0" json:"pending_amount"`
	PendingKey     string          `gorm:"type:varchar(160);not null;default:''" json:"-"`
	PendingRequest string          `gorm:"type:varchar(120);not null;default:''" json:"-"`
	// LastRequest is the client key of the last settled withdrawal.
	LastRequest string `gorm:"type:varchar(120);not null;default:''" json:"-"`

	StartTime int64 `gorm:"not null" json:"start_time"`
	EndTime   int64 `gorm:"not null" json:"end_time"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (RewardStream) TableName() string {
	return "reward_streams"
}
