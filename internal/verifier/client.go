// Package verifier turns AI verifier and dispute reviewer answers into
// settlement decisions.
package verifier

import (
	"context"
	"math"
	"net/http"
	"strings"

	"stratflow/internal/client/jsonapi"
	"stratflow/internal/protocol"
)

type VerifyRequest struct {
	StrategyRules []string              `json:"strategy_rules"`
	Proof         protocol.Proof        `json:"proof"`
	OracleChecks  []protocol.PriceCheck `json:"oracle_checks,omitempty"`
}

type ReviewRequest struct {
	StrategyRules []string       `json:"strategy_rules"`
	Proof         protocol.Proof `json:"proof"`
	DisputeReason string         `json:"dispute_reason"`
}

// RawVerdict is the model's answer before thresholds are applied.
type RawVerdict struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Model is the AI collaborator.
type Model interface {
	Verify(ctx context.Context, req VerifyRequest) (RawVerdict, error)
	Review(ctx context.Context, req ReviewRequest) (protocol.Review, error)
}

// HTTPModel calls a verifier service over HTTP. One request per call; it
// never retries.
type HTTPModel struct {
	Client     *jsonapi.Client
	VerifyPath string
	ReviewPath string
}

func NewHTTPModel(client *jsonapi.Client) *HTTPModel {
	return &HTTPModel{Client: client, VerifyPath: "/verify", ReviewPath: "/review"}
}

func (m *HTTPModel) Verify(ctx context.Context, req VerifyRequest) (RawVerdict, error) {
	var out RawVerdict
	if err := m.Client.Do(ctx, jsonapi.Request{Method: http.MethodPost, Path: m.VerifyPath, Body: req}, &out); err != nil {
		return RawVerdict{}, protocol.ErrVerificationUnavailable.Wrap(err)
	}
	out.Confidence = normalizeConfidence(out.Confidence)
	return out, nil
}

func (m *HTTPModel) Review(ctx context.Context, req ReviewRequest) (protocol.Review, error) {
	var out protocol.Review
	if err := m.Client.Do(ctx, jsonapi.Request{Method: http.MethodPost, Path: m.ReviewPath, Body: req}, &out); err != nil {
		return protocol.Review{}, protocol.ErrVerificationUnavailable.Wrap(err)
	}
	out.Confidence = normalizeConfidence(out.Confidence)
	out.Reason = strings.TrimSpace(out.Reason)
	return out, nil
}

// normalizeConfidence accepts percentages (1, 100] from models that answer
// on a 0-100 scale.
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 && !math.IsNaN(c) {
		return c / 100
	}
	return c
}
