package ledger

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stratflow/internal/client/jsonapi"
	"stratflow/internal/protocol"
)

// Custody forwards movements to an external custody service. The dedupe key
// travels as the Idempotency-Key header.
type Custody struct {
	Client *jsonapi.Client
	Logger *zap.Logger
}

func NewCustody(client *jsonapi.Client, logger *zap.Logger) *Custody {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Custody{Client: client, Logger: logger}
}

type custodyRequest struct {
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
	Key      string `json:"dedupe_key"`
}

type custodyResponse struct {
	TxRef string `json:"tx_ref"`
}

var custodyPaths = map[Kind]string{
	KindLockStake: "/v1/stakes/lock",
	KindRefund:    "/v1/stakes/refund",
	KindPayout:    "/v1/payouts",
	KindSlash:     "/v1/stakes/slash",
}

func (c *Custody) LockStake(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return c.post(ctx, KindLockStake, key, executor, amount)
}

func (c *Custody) Refund(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return c.post(ctx, KindRefund, key, executor, amount)
}

func (c *Custody) Payout(ctx context.Context, key, identity string, amount decimal.Decimal) (string, error) {
	return c.post(ctx, KindPayout, key, identity, amount)
}

func (c *Custody) Slash(ctx context.Context, key, executor string, amount decimal.Decimal) (string, error) {
	return c.post(ctx, KindSlash, key, executor, amount)
}

func (c *Custody) post(ctx context.Context, kind Kind, key, identity string, amount decimal.Decimal) (string, error) {
	if err := validate(key, identity, amount); err != nil {
		return "", err
	}
	if c == nil || c.Client == nil {
		return "", protocol.ErrLedgerUnavailable.With("custody client not configured")
	}
	var out custodyResponse
	err := c.Client.Do(ctx, jsonapi.Request{
		Method:         http.MethodPost,
		Path:           custodyPaths[kind],
		Body:           custodyRequest{Identity: identity, Amount: amount.String(), Key: key},
		IdempotencyKey: key,
	}, &out)
	if err != nil {
		var apiErr *jsonapi.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
			return "", protocol.ErrInvalidAmount.Wrap(err)
		}
		c.Logger.Warn("custody call failed", zap.String("kind", string(kind)), zap.String("key", key), zap.Error(err))
		return "", protocol.ErrLedgerUnavailable.Wrap(err)
	}
	if strings.TrimSpace(out.TxRef) == "" {
		return "", protocol.ErrLedgerUnavailable.With("custody returned empty tx_ref for %s", key)
	}
	return out.TxRef, nil
}
