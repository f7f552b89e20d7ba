package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePayoutProfit(t *testing.T) {
	p, err := ComputePayout(dec("50"), dec("1000"), 20)
	require.NoError(t, err)
	assert.True(t, p.StreamTotal.Equal(dec("850")), "stream total %s", p.StreamTotal)
	assert.True(t, p.CreatorShare.Equal(dec("200")), "creator share %s", p.CreatorShare)
	assert.True(t, p.TraderProfit.Equal(dec("800")))
}

func TestComputePayoutLoss(t *testing.T) {
	for _, profit := range []string{"-200", "0"} {
		p, err := ComputePayout(dec("50"), dec(profit), 20)
		require.NoError(t, err)
		assert.True(t, p.StreamTotal.Equal(dec("50")))
		assert.True(t, p.CreatorShare.IsZero())
	}
}

func TestComputePayoutValidation(t *testing.T) {
	_, err := ComputePayout(dec("0"), dec("1"), 20)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	_, err = ComputePayout(dec("1"), dec("1"), 0)
	assert.True(t, errors.Is(err, ErrInvalidStrategy))
	_, err = ComputePayout(dec("1"), dec("1"), 101)
	assert.True(t, errors.Is(err, ErrInvalidStrategy))
}

func TestWithinTolerance(t *testing.T) {
	ok, err := WithinTolerance("BTC", dec("102"), dec("100"), 0)
	require.NoError(t, err)
	assert.True(t, ok.Valid)
	assert.Equal(t, DefaultTolerancePercent, ok.TolerancePercent)

	bad, err := WithinTolerance("BTC", dec("97.9"), dec("100"), 2)
	require.NoError(t, err)
	assert.False(t, bad.Valid)

	_, err = WithinTolerance("BTC", dec("1"), dec("0"), 2)
	assert.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestScaleExponent(t *testing.T) {
	assert.True(t, ScaleExponent(6_512_345_000_000, -8).Equal(dec("65123.45")))
}

func TestDecide(t *testing.T) {
	v, err := Decide(true, 0.9, "looks fine", 0.85, nil)
	require.NoError(t, err)
	assert.True(t, v.Approved)

	low, err := Decide(true, 0.84, "weak", 0.85, nil)
	require.NoError(t, err)
	assert.False(t, low.Approved)
	assert.Contains(t, low.Flags, FlagLowConfidence)

	mismatch, _ := WithinTolerance("ETH", dec("120"), dec("100"), 2)
	pm, err := Decide(true, 0.99, "", 0.85, []PriceCheck{mismatch})
	require.NoError(t, err)
	assert.False(t, pm.Approved)
	assert.Contains(t, pm.Flags, FlagPriceMismatch)

	_, err = Decide(true, 1.5, "", 0.85, nil)
	assert.True(t, errors.Is(err, ErrInvalidVerdict))

	assert.Equal(t, 85, ConfidencePercent(0.85))
	assert.Equal(t, 100, ConfidencePercent(1.2))
}
