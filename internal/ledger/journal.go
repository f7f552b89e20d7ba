package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stratflow/internal/models"
	"stratflow/internal/protocol"
)

type JournalStore interface {
	InsertLedgerEntry(ctx context.Context, item *models.LedgerEntry) (bool, error)
	GetLedgerEntryByDedupeKey(ctx context.Context, key string) (*models.LedgerEntry, error)
}

// Journal records movements in the ledger_entries table. It is the backend
// for deployments where custody is reconciled out of band.
type Journal struct {
	Store  JournalStore
	Logger *zap.Logger
}

func NewJournal(store JournalStore, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{Store: store, Logger: logger}
}

func (j *Journal) LockStake(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return j.record(ctx, KindLockStake, key, executor, amount)
}

func (j *Journal) Refund(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return j.record(ctx, KindRefund, key, executor, amount)
}

func (j *Journal) Payout(ctx context.Context, key, identity string, amount decimal.Decimal) (string, error) {
	return j.record(ctx, KindPayout, key, identity, amount)
}

func (j *Journal) Slash(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return j.record(ctx, KindSlash, key, executor, amount)
}

func (j *Journal) record(ctx context.Context, kind Kind, key, identity string, amount decimal.Decimal) (string, error) {
	if err := validate(key, identity, amount); err != nil {
		return "", err
	}
	if j == nil || j.Store == nil {
		return "", protocol.ErrLedgerUnavailable.With("journal store not configured")
	}
	entry := &models.LedgerEntry{
		DedupeKey: strings.TrimSpace(key),
		Kind:      string(kind),
		Identity:  strings.TrimSpace(identity),
		Amount:    amount,
		TxRef:     "jr-" + uuid.NewString(),
	}
	created, err := j.Store.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return "", protocol.ErrLedgerUnavailable.Wrap(err)
	}
	if created {
		j.Logger.Info("ledger entry recorded",
			zap.String("kind", string(kind)),
			zap.String("key", entry.DedupeKey),
			zap.String("identity", entry.Identity),
			zap.String("amount", amount.String()),
			zap.String("tx_ref", entry.TxRef),
		)
		return entry.TxRef, nil
	}

	existing, err := j.Store.GetLedgerEntryByDedupeKey(ctx, entry.DedupeKey)
	if err != nil {
		return "", protocol.ErrLedgerUnavailable.Wrap(err)
	}
	if existing == nil {
		return "", protocol.ErrLedgerUnavailable.With("entry %s vanished after conflict", entry.DedupeKey)
	}
	if existing.Kind != string(kind) || !existing.Amount.Equal(amount) {
		return "", protocol.ErrInvariantViolation.Wrap(fmt.Errorf(
			"dedupe key %s reused: have %s %s, got %s %s",
			entry.DedupeKey, existing.Kind, existing.Amount.String(), kind, amount.String()))
	}
	j.Logger.Debug("ledger entry replayed", zap.String("key", entry.DedupeKey), zap.String("tx_ref", existing.TxRef))
	return existing.TxRef, nil
}
