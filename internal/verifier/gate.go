package verifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stratflow/internal/cache"
	"stratflow/internal/protocol"
)

// PriceChecker grounds price claims against a reference feed.
type PriceChecker interface {
	CheckAll(ctx context.Context, claims []protocol.PriceClaim) ([]protocol.PriceCheck, error)
}

// Gate produces the approve/reject verdict for a pending execution.
type Gate struct {
	Model         Model
	Prices        PriceChecker
	Cache         cache.Store
	CacheTTL      time.Duration
	MinConfidence float64
	Logger        *zap.Logger

	// OracleEnabled, when set, is consulted before grounding price claims.
	// Claims are left to the model when it returns false.
	OracleEnabled func(ctx context.Context) bool
}

func NewGate(model Model, prices PriceChecker, store cache.Store, minConfidence float64, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = protocol.DefaultMinConfidence
	}
	return &Gate{
		Model:         model,
		Prices:        prices,
		Cache:         store,
		CacheTTL:      24 * time.Hour,
		MinConfidence: minConfidence,
		Logger:        logger,
	}
}

func verdictKey(executionID uint64, proofHash string) string {
	return fmt.Sprintf("verdict:%d:%s", executionID, proofHash)
}

// Verify runs one verification pass. A cached verdict for the same execution
// and proof is returned without calling the model again.
func (g *Gate) Verify(ctx context.Context, executionID uint64, rules []string, proof protocol.Proof) (protocol.Verdict, error) {
	if g == nil || g.Model == nil {
		return protocol.Verdict{}, protocol.ErrVerificationUnavailable.With("verifier not configured")
	}
	key := verdictKey(executionID, proof.Hash())
	var cached protocol.Verdict
	if found, err := cache.GetJSON(ctx, g.Cache, key, &cached); err == nil && found {
		g.Logger.Debug("verdict cache hit", zap.Uint64("execution_id", executionID))
		return cached, nil
	}

	var checks []protocol.PriceCheck
	if len(proof.PriceClaims) > 0 && g.oracleEnabled(ctx) {
		if g.Prices == nil {
			return protocol.Verdict{}, protocol.ErrOracleUnavailable.With("price oracle not configured")
		}
		var err error
		checks, err = g.Prices.CheckAll(ctx, proof.PriceClaims)
		if err != nil {
			return protocol.Verdict{}, err
		}
	}

	var verdict protocol.Verdict
	if mismatched(checks) {
		// The claim is already disproven; no model call is billed.
		v, err := protocol.Decide(false, 0, "price claims outside oracle tolerance", g.MinConfidence, checks)
		if err != nil {
			return protocol.Verdict{}, err
		}
		verdict = v
	} else {
		raw, err := g.Model.Verify(ctx, VerifyRequest{StrategyRules: rules, Proof: proof, OracleChecks: checks})
		if err != nil {
			g.Logger.Warn("verifier call failed", zap.Uint64("execution_id", executionID), zap.Error(err))
			return protocol.Verdict{}, err
		}
		v, err := protocol.Decide(raw.Approved, raw.Confidence, raw.Reason, g.MinConfidence, checks)
		if err != nil {
			return protocol.Verdict{}, err
		}
		verdict = v
	}

	if err := cache.SetJSON(ctx, g.Cache, key, verdict, g.CacheTTL); err != nil {
		g.Logger.Warn("verdict cache write failed", zap.Uint64("execution_id", executionID), zap.Error(err))
	}
	g.Logger.Info("verification verdict",
		zap.Uint64("execution_id", executionID),
		zap.Bool("approved", verdict.Approved),
		zap.Float64("confidence", verdict.Confidence),
		zap.Strings("flags", verdict.Flags),
	)
	return verdict, nil
}

func (g *Gate) oracleEnabled(ctx context.Context) bool {
	if g.OracleEnabled == nil {
		return true
	}
	return g.OracleEnabled(ctx)
}

func mismatched(checks []protocol.PriceCheck) bool {
	for _, c := range checks {
		if !c.Valid {
			return true
		}
	}
	return false
}
