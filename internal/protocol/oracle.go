package protocol

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultTolerancePercent bounds how far a claimed price may sit from the
// reference price.
const DefaultTolerancePercent = 2.0

// PriceCheck is the outcome of comparing one claim with the oracle.
type PriceCheck struct {
	Asset            string          `json:"asset"`
	Claimed          decimal.Decimal `json:"claimed"`
	Reference        decimal.Decimal `json:"reference"`
	DeviationPercent float64         `json:"deviation_percent"`
	TolerancePercent float64         `json:"tolerance_percent"`
	Valid            bool            `json:"valid"`
}

// DeviationPercent returns abs(claimed-reference)/reference*100.
func DeviationPercent(claimed, reference decimal.Decimal) (float64, error) {
	if !reference.IsPositive() {
		return 0, ErrInvalidPrice.With("reference price must be positive")
	}
	if claimed.IsNegative() {
		return 0, ErrInvalidPrice.With("claimed price is negative")
	}
	dev := claimed.Sub(reference).Abs().Div(reference).Mul(hundred)
	f, _ := dev.Float64()
	return f, nil
}

// WithinTolerance applies the tolerance rule. A non-positive tolerance falls
// back to DefaultTolerancePercent.
func WithinTolerance(asset string, claimed, reference decimal.Decimal, tolerancePct float64) (PriceCheck, error) {
	if tolerancePct <= 0 || math.IsNaN(tolerancePct) {
		tolerancePct = DefaultTolerancePercent
	}
	dev, err := DeviationPercent(claimed, reference)
	if err != nil {
		return PriceCheck{}, err
	}
	return PriceCheck{
		Asset:            asset,
		Claimed:          claimed,
		Reference:        reference,
		DeviationPercent: dev,
		TolerancePercent: tolerancePct,
		Valid:            dev <= tolerancePct,
	}, nil
}

// ScaleExponent converts a fixed-point feed value (raw * 10^expo) into a
// decimal price.
func ScaleExponent(raw int64, expo int32) decimal.Decimal {
	return decimal.New(raw, expo)
}
