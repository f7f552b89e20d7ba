// Package ledger moves funds for the settlement service. Every operation is
// idempotent by dedupe key: repeating a key returns the original tx ref
// without moving funds twice.
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"stratflow/internal/protocol"
)

type Kind string

const (
	KindLockStake Kind = "lock_stake"
	KindRefund    Kind = "refund"
	KindPayout    Kind = "payout"
	KindSlash     Kind = "slash"
)

type Ledger interface {
	LockStake(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error)
	Refund(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error)
	Payout(ctx context.Context, key, identity string, amount decimal.Decimal) (string, error)
	// Slash forfeits the executor's locked stake.
	Slash(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error)
}

func validate(key, identity string, amount decimal.Decimal) error {
	if strings.TrimSpace(key) == "" {
		return protocol.ErrInvariantViolation.With("ledger call without dedupe key")
	}
	if strings.TrimSpace(identity) == "" {
		return protocol.ErrInvalidIdentity
	}
	if !amount.IsPositive() {
		return protocol.ErrInvalidAmount.With("ledger amount must be positive")
	}
	if !protocol.WithinScale(amount) {
		return protocol.ErrInvalidAmount.With("ledger amount %s exceeds %d decimal places", amount.String(), protocol.AmountScale)
	}
	return nil
}
