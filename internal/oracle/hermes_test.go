package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratflow/internal/cache"
	"stratflow/internal/client/jsonapi"
	"stratflow/internal/protocol"
)

const btcBody = `{"parsed":[{"id":"e62d","price":{"price":"6500000000000","conf":"1500000000","expo":-8,"publish_time":1700000000}}]}`

func newHermes(t *testing.T, handler http.HandlerFunc) *Hermes {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHermes(jsonapi.New(srv.Client(), jsonapi.Options{Host: srv.URL}), Options{Cache: cache.NewMemoryStore()}, nil)
}

func TestPriceAtTimestampScalesAndCaches(t *testing.T) {
	var calls atomic.Int32
	h := newHermes(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v2/updates/price/1700000000" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.URL.Query().Get("ids[]") != DefaultFeeds["BTC"] {
			t.Errorf("ids[]=%s", r.URL.Query().Get("ids[]"))
		}
		_, _ = w.Write([]byte(btcBody))
	})

	q, err := h.Price(context.Background(), "btc/usd", 1_700_000_000)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(65_000)), "price %s", q.Price)
	assert.True(t, q.Confidence.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "BTC", q.Asset)

	_, err = h.Price(context.Background(), "BTC", 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckAppliesTolerance(t *testing.T) {
	h := newHermes(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(btcBody))
	})
	ok, err := h.Check(context.Background(), protocol.PriceClaim{Asset: "BTC", Price: decimal.NewFromInt(66_000), Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	bad, err := h.Check(context.Background(), protocol.PriceClaim{Asset: "BTC", Price: decimal.NewFromInt(70_000), Timestamp: 2})
	require.NoError(t, err)
	assert.False(t, bad.Valid)
}

func TestOracleFailuresAreRetryable(t *testing.T) {
	h := newHermes(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := h.Price(context.Background(), "ETH", 0)
	assert.True(t, errors.Is(err, protocol.ErrOracleUnavailable))
	assert.True(t, protocol.IsRetryable(err))

	_, err = h.Price(context.Background(), "DOGE", 0)
	assert.True(t, errors.Is(err, protocol.ErrInvalidPrice))
}

func TestCheckAllStopsOnError(t *testing.T) {
	h := newHermes(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"parsed":[]}`))
	})
	_, err := h.CheckAll(context.Background(), []protocol.PriceClaim{{Asset: "BTC", Price: decimal.NewFromInt(1)}})
	assert.True(t, errors.Is(err, protocol.ErrOracleUnavailable))
}
