package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratflow/internal/cache"
	"stratflow/internal/client/jsonapi"
	"stratflow/internal/protocol"
)

type fakeModel struct {
	verdict   RawVerdict
	review    protocol.Review
	err       error
	verifies  int
	reviews   int
	lastCheck []protocol.PriceCheck
}

func (m *fakeModel) Verify(_ context.Context, req VerifyRequest) (RawVerdict, error) {
	m.verifies++
	m.lastCheck = req.OracleChecks
	return m.verdict, m.err
}

func (m *fakeModel) Review(_ context.Context, _ ReviewRequest) (protocol.Review, error) {
	m.reviews++
	return m.review, m.err
}

type fakePrices struct {
	checks []protocol.PriceCheck
	err    error
}

func (p fakePrices) CheckAll(context.Context, []protocol.PriceClaim) ([]protocol.PriceCheck, error) {
	return p.checks, p.err
}

func sampleProof() protocol.Proof {
	return protocol.Proof{
		Title:    "BTC breakout",
		Evidence: []protocol.Evidence{{Kind: protocol.EvidenceText, Ref: "entry 64000 exit 65000"}},
		PnL:      decimal.NewFromInt(1000),
	}
}

func TestGateApprovesAboveThresholdAndCaches(t *testing.T) {
	model := &fakeModel{verdict: RawVerdict{Approved: true, Confidence: 0.92, Reason: "consistent"}}
	g := NewGate(model, nil, cache.NewMemoryStore(), 0.85, nil)

	v, err := g.Verify(context.Background(), 1, []string{"rule"}, sampleProof())
	require.NoError(t, err)
	assert.True(t, v.Approved)

	_, err = g.Verify(context.Background(), 1, []string{"rule"}, sampleProof())
	require.NoError(t, err)
	assert.Equal(t, 1, model.verifies, "cached verdict must not call the model twice")

	changed := sampleProof()
	changed.PnL = decimal.NewFromInt(999)
	_, _ = g.Verify(context.Background(), 1, []string{"rule"}, changed)
	assert.Equal(t, 2, model.verifies, "a different proof must miss the cache")
}

func TestGateDowngradesLowConfidence(t *testing.T) {
	model := &fakeModel{verdict: RawVerdict{Approved: true, Confidence: 0.6}}
	v, err := NewGate(model, nil, nil, 0, nil).Verify(context.Background(), 1, nil, sampleProof())
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Flags, protocol.FlagLowConfidence)
}

func TestGateSkipsModelOnPriceMismatch(t *testing.T) {
	model := &fakeModel{verdict: RawVerdict{Approved: true, Confidence: 1}}
	proof := sampleProof()
	proof.PriceClaims = []protocol.PriceClaim{{Asset: "BTC", Price: decimal.NewFromInt(1)}}
	prices := fakePrices{checks: []protocol.PriceCheck{{Asset: "BTC", Valid: false}}}

	v, err := NewGate(model, prices, nil, 0.85, nil).Verify(context.Background(), 1, nil, proof)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Flags, protocol.FlagPriceMismatch)
	assert.Equal(t, 0, model.verifies)
}

func TestGatePassesOracleChecksToModel(t *testing.T) {
	model := &fakeModel{verdict: RawVerdict{Approved: true, Confidence: 0.9}}
	proof := sampleProof()
	proof.PriceClaims = []protocol.PriceClaim{{Asset: "BTC", Price: decimal.NewFromInt(1)}}
	prices := fakePrices{checks: []protocol.PriceCheck{{Asset: "BTC", Valid: true}}}

	v, err := NewGate(model, prices, nil, 0.85, nil).Verify(context.Background(), 1, nil, proof)
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Len(t, model.lastCheck, 1)
}

func TestGateOracleSwitchOff(t *testing.T) {
	model := &fakeModel{verdict: RawVerdict{Approved: true, Confidence: 0.9}}
	proof := sampleProof()
	proof.PriceClaims = []protocol.PriceClaim{{Asset: "BTC", Price: decimal.NewFromInt(1)}}
	g := NewGate(model, fakePrices{err: protocol.ErrOracleUnavailable}, nil, 0.85, nil)
	g.OracleEnabled = func(context.Context) bool { return false }

	v, err := g.Verify(context.Background(), 1, nil, proof)
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Empty(t, model.lastCheck)
}

func TestGateSurfacesUnavailable(t *testing.T) {
	model := &fakeModel{err: protocol.ErrVerificationUnavailable.Wrap(errors.New("timeout"))}
	_, err := NewGate(model, nil, nil, 0.85, nil).Verify(context.Background(), 1, nil, sampleProof())
	assert.True(t, protocol.IsRetryable(err))

	proof := sampleProof()
	proof.PriceClaims = []protocol.PriceClaim{{Asset: "BTC", Price: decimal.NewFromInt(1)}}
	_, err = NewGate(&fakeModel{}, fakePrices{err: protocol.ErrOracleUnavailable}, nil, 0.85, nil).Verify(context.Background(), 1, nil, proof)
	assert.True(t, errors.Is(err, protocol.ErrOracleUnavailable))

	var nilGate *Gate
	_, err = nilGate.Verify(context.Background(), 1, nil, sampleProof())
	assert.True(t, errors.Is(err, protocol.ErrVerificationUnavailable))
}

func TestResolverCachesAndValidates(t *testing.T) {
	model := &fakeModel{review: protocol.Review{Upheld: true, Confidence: 0.97, Reason: "fabricated screenshot"}}
	r := NewResolver(model, cache.NewMemoryStore(), nil)

	review, err := r.Resolve(context.Background(), 5, 1, nil, sampleProof(), protocol.ReasonFakeProof.Describe("edited image"))
	require.NoError(t, err)
	assert.True(t, review.Upheld)
	_, _ = r.Resolve(context.Background(), 5, 1, nil, sampleProof(), "")
	assert.Equal(t, 1, model.reviews)

	bad := &fakeModel{review: protocol.Review{Confidence: 3}}
	_, err = NewResolver(bad, nil, nil).Resolve(context.Background(), 6, 1, nil, sampleProof(), "")
	assert.True(t, errors.Is(err, protocol.ErrInvalidVerdict))
}


func TestHTTPModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			var req VerifyRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if len(req.StrategyRules) != 1 {
				t.Errorf("rules=%v", req.StrategyRules)
			}
			_, _ = w.Write([]byte(`{"approved":true,"confidence":91,"reason":"ok"}`))
		case "/review":
			_, _ = w.Write([]byte(`{"upheld":false,"confidence":0.7,"reason":" fine ","evidence":["tx matches"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewHTTPModel(jsonapi.New(srv.Client(), jsonapi.Options{Host: srv.URL}))
	raw, err := m.Verify(context.Background(), VerifyRequest{StrategyRules: []string{"r"}, Proof: sampleProof()})
	require.NoError(t, err)
	assert.InDelta(t, 0.91, raw.Confidence, 1e-9)

	rev, err := m.Review(context.Background(), ReviewRequest{Proof: sampleProof()})
	require.NoError(t, err)
	assert.Equal(t, "fine", rev.Reason)
	assert.Equal(t, []string{"tx matches"}, rev.Evidence)

	m.VerifyPath = "/missing"
	_, err = m.Verify(context.Background(), VerifyRequest{})
	assert.True(t, errors.Is(err, protocol.ErrVerificationUnavailable))
}
