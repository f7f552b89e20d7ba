package protocol

import (
	"fmt"
	"math"
	"strings"
)

// DefaultMinConfidence is the lowest AI confidence that may approve.
const DefaultMinConfidence = 0.85

// Verdict is the interpreted result of one verification pass.
type Verdict struct {
	Approved    bool         `json:"approved"`
	Confidence  float64      `json:"confidence"`
	Reason      string       `json:"reason"`
	Flags       []string     `json:"flags,omitempty"`
	PriceChecks []PriceCheck `json:"price_checks,omitempty"`
}

// Review is the outcome of the stricter dispute pass.
type Review struct {
	Upheld     bool     `json:"upheld"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Evidence   []string `json:"evidence,omitempty"`
}

const (
	FlagLowConfidence = "low_confidence"
	FlagPriceMismatch = "price_mismatch"
)

// Decide turns a raw model answer and the oracle checks into a verdict. The
// model's approval is downgraded when confidence is below minConfidence or
// any price claim falls outside tolerance.
func Decide(approved bool, confidence float64, reason string, minConfidence float64, checks []PriceCheck) (Verdict, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Verdict{}, ErrInvalidVerdict.With("confidence %v outside [0,1]", confidence)
	}
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = DefaultMinConfidence
	}
	v := Verdict{
		Approved:    approved,
		Confidence:  confidence,
		Reason:      strings.TrimSpace(reason),
		PriceChecks: checks,
	}
	if approved && confidence < minConfidence {
		v.Approved = false
		v.Flags = append(v.Flags, FlagLowConfidence)
		v.Reason = appendReason(v.Reason, fmt.Sprintf("confidence %.2f below %.2f", confidence, minConfidence))
	}
	for _, c := range checks {
		if c.Valid {
			continue
		}
		v.Approved = false
		v.Flags = append(v.Flags, FlagPriceMismatch)
		v.Reason = appendReason(v.Reason, fmt.Sprintf("%s claimed %s vs oracle %s (%.2f%%)",
			c.Asset, c.Claimed.String(), c.Reference.String(), c.DeviationPercent))
	}
	return v, nil
}

// ConfidencePercent stores a [0,1] confidence as an integer percentage.
func ConfidencePercent(confidence float64) int {
	p := int(math.Round(confidence * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ValidateReview rejects malformed reviewer output.
func ValidateReview(r Review) error {
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidVerdict.With("review confidence %v outside [0,1]", r.Confidence)
	}
	return nil
}

func appendReason(reason, extra string) string {
	if reason == "" {
		return extra
	}
	return reason + "; " + extra
}
