package protocol

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// TestAvailableBounded: 0 <= available(now) <= total for every now.
func TestAvailableBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("available stays within [0, total]", prop.ForAll(
		func(totalUnits int64, duration int64, withdrawnPct int64, offset int64) bool {
			total := decimal.New(totalUnits, -AmountScale)
			withdrawn := total.Mul(decimal.NewFromInt(withdrawnPct)).Div(hundred).Truncate(AmountScale)
			s := Schedule{Total: total, StartTime: 1_000, EndTime: 1_000 + duration, Withdrawn: withdrawn}
			acc, err := s.At(1_000 + offset)
			if err != nil {
				return false
			}
			return !acc.Available.IsNegative() && acc.Available.LessThanOrEqual(total)
		},
		gen.Int64Range(0, 1_000_000_000_000),
		gen.Int64Range(1, 86_400),
		gen.Int64Range(0, 100),
		gen.Int64Range(-10_000, 200_000),
	))

	properties.TestingRun(t)
}

// TestEarnedMonotonic: earned never decreases and equals total once ended.
func TestEarnedMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("earned is non-decreasing and reaches total", prop.ForAll(
		func(totalUnits int64, duration int64, a int64, b int64) bool {
			if a > b {
				a, b = b, a
			}
			total := decimal.New(totalUnits, -AmountScale)
			s := Schedule{Total: total, StartTime: 0, EndTime: duration, Withdrawn: decimal.Zero}
			x, err1 := s.At(a)
			y, err2 := s.At(b)
			if err1 != nil || err2 != nil {
				return false
			}
			if x.Earned.GreaterThan(y.Earned) {
				return false
			}
			if b >= duration && !y.Earned.Equal(total) {
				return false
			}
			return true
		},
		gen.Int64Range(0, 1_000_000_000_000),
		gen.Int64Range(1, 3_600),
		gen.Int64Range(-100, 5_000),
		gen.Int64Range(-100, 5_000),
	))

	properties.TestingRun(t)
}

// TestPayoutConservesProfit: creator share plus trader profit equals profit.
func TestPayoutConservesProfit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("split conserves profit", prop.ForAll(
		func(profitUnits int64, pct int) bool {
			profit := decimal.New(profitUnits, -AmountScale)
			p, err := ComputePayout(decimal.NewFromInt(50), profit, pct)
			if err != nil {
				return false
			}
			if !profit.IsPositive() {
				return p.CreatorShare.IsZero() && p.StreamTotal.Equal(decimal.NewFromInt(50))
			}
			return p.CreatorShare.Add(p.TraderProfit).Equal(profit) &&
				p.StreamTotal.Equal(decimal.NewFromInt(50).Add(p.TraderProfit))
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000_000),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
