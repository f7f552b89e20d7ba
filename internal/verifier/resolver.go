package verifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stratflow/internal/cache"
	"stratflow/internal/protocol"
)

// Resolver runs the stricter secondary pass for a raised dispute.
type Resolver struct {
	Model    Model
	Cache    cache.Store
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewResolver(model Model, store cache.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Model: model, Cache: store, CacheTTL: 24 * time.Hour, Logger: logger}
}

func reviewKey(executionID uint64, disputeID uint64) string {
	return fmt.Sprintf("review:%d:%d", executionID, disputeID)
}

// Resolve returns the reviewer's decision. upheld=true means slash.
func (r *Resolver) Resolve(ctx context.Context, executionID, disputeID uint64, rules []string, proof protocol.Proof, reason string) (protocol.Review, error) {
	if r == nil || r.Model == nil {
		return protocol.Review{}, protocol.ErrVerificationUnavailable.With("dispute reviewer not configured")
	}
	key := reviewKey(executionID, disputeID)
	var cached protocol.Review
	if found, err := cache.GetJSON(ctx, r.Cache, key, &cached); err == nil && found {
		return cached, nil
	}

	review, err := r.Model.Review(ctx, ReviewRequest{StrategyRules: rules, Proof: proof, DisputeReason: reason})
	if err != nil {
		r.Logger.Warn("dispute review failed", zap.Uint64("execution_id", executionID), zap.Error(err))
		return protocol.Review{}, err
	}
	if err := protocol.ValidateReview(review); err != nil {
		return protocol.Review{}, err
	}
	if err := cache.SetJSON(ctx, r.Cache, key, review, r.CacheTTL); err != nil {
		r.Logger.Warn("review cache write failed", zap.Uint64("execution_id", executionID), zap.Error(err))
	}
	r.Logger.Info("dispute review",
		zap.Uint64("execution_id", executionID),
		zap.Bool("upheld", review.Upheld),
		zap.Float64("confidence", review.Confidence),
	)
	return review, nil
}
