package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Execution is one trader's attempt at a strategy. Rows are never deleted.
type Execution struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID uint64 `gorm:"not null;index" json:"strategy_id"`
	Executor   string `gorm:"type:varchar(120);not null;index" json:"executor"`

	// Idempotency key of the submission that created the row.
	SubmissionKey string `gorm:"type:varchar(120);not null;uniqueIndex" json:"submission_key"`
	StakeTxRef    string `gorm:"type:varchar(200)" json:"stake_tx_ref"`

	StakeAmount decimal.Decimal `gorm:"type:numeric(30,7);not null" json:"stake_amount"`
	ClaimedPnL  decimal.Decimal `gorm:"type:numeric(30,7);not null;default:0" json:"claimed_pnl"`
	Proof       datatypes.JSON  `gorm:"type:jsonb;not null" json:"proof"`
	ProofHash   string          `gorm:"type:varchar(64);not null" json:"proof_hash"`

	Status        string         `gorm:"type:varchar(20);not null;default:'pending';index:idx_exec_status_approved,priority:1" json:"status"`
	Confidence    int            `gorm:"not null;default:0" json:"confidence"`
	ApprovedAt    int64          `gorm:"not null;default:0;index:idx_exec_status_approved,priority:2" json:"approved_at"`
	Verified      bool           `gorm:"not null;default:false" json:"verified"`
	VerdictReason string         `gorm:"type:text" json:"verdict_reason"`
	VerdictFlags  datatypes.JSON `gorm:"type:jsonb" json:"verdict_flags,omitempty"`

	SettledBy string `gorm:"type:varchar(120)" json:"settled_by,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Execution) TableName() string {
	return "executions"
}
