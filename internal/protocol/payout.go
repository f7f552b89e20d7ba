package protocol

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Payout is the split of a settled execution.
type Payout struct {
	StakeRefund  decimal.Decimal `json:"stake_refund"`
	TraderProfit decimal.Decimal `json:"trader_profit"`
	CreatorShare decimal.Decimal `json:"creator_share"`
	StreamTotal  decimal.Decimal `json:"stream_total"`
}

// ValidSharePercent reports whether pct is an allowed creator cut.
func ValidSharePercent(pct int) bool {
	return pct >= 1 && pct <= 100
}

// ComputePayout splits a verified result between the executor's stream and
// the creator. The creator earns only when profit is positive.
func ComputePayout(stake, profit decimal.Decimal, sharePct int) (Payout, error) {
	if !stake.IsPositive() {
		return Payout{}, ErrInvalidAmount.With("stake must be positive")
	}
	if !ValidSharePercent(sharePct) {
		return Payout{}, ErrInvalidStrategy.With("profit share %d outside 1..100", sharePct)
	}
	out := Payout{
		StakeRefund:  stake,
		TraderProfit: decimal.Zero,
		CreatorShare: decimal.Zero,
		StreamTotal:  stake,
	}
	if !profit.IsPositive() {
		return out, nil
	}
	pct := decimal.NewFromInt(int64(sharePct))
	out.CreatorShare = profit.Mul(pct).Div(hundred).Truncate(AmountScale)
	// Remainder keeps CreatorShare + TraderProfit == profit after truncation.
	out.TraderProfit = profit.Sub(out.CreatorShare)
	out.StreamTotal = stake.Add(out.TraderProfit)
	return out, nil
}
