package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one movement recorded by the journal ledger backend.
type LedgerEntry struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DedupeKey string          `gorm:"type:varchar(200);not null;uniqueIndex" json:"dedupe_key"`
	Kind      string          `gorm:"type:varchar(20);not null;index" json:"kind"`
	Identity  string          `gorm:"type:varchar(120);index" json:"identity"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,7);not null" json:"amount"`
	TxRef     string          `gorm:"type:varchar(200);not null" json:"tx_ref"`
	CreatedAt time.Time       `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
