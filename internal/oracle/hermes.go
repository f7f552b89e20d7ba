// Package oracle reads reference prices from a Pyth Hermes endpoint and checks
// executor price claims against them.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stratflow/internal/cache"
	"stratflow/internal/client/jsonapi"
	"stratflow/internal/protocol"
)

// DefaultFeeds maps asset symbols to Pyth price feed ids.
var DefaultFeeds = map[string]string{
	"BTC":  "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	"ETH":  "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	"SOL":  "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
	"XLM":  "b7a8eba68a997cd0210c2e1e4ee811ad2d174b3611c22d9ebf16f4cb7e9ba850",
	"USDC": "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
	"USDT": "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
	"AAPL": "49f6b65cb1de6b10eaf75e7c03ca029c306d0357e91b5311b175084a5ad55688",
	"TSLA": "16dad506d7db8da01c87581c87ca897a012a153557d4d578c3b9c9e1bc0632f1",
}

// Quote is one reference price.
type Quote struct {
	Asset       string          `json:"asset"`
	FeedID      string          `json:"feed_id"`
	Price       decimal.Decimal `json:"price"`
	Confidence  decimal.Decimal `json:"confidence"`
	PublishTime int64           `json:"publish_time"`
}

type Hermes struct {
	client    *jsonapi.Client
	feeds     map[string]string
	store     cache.Store
	latestTTL time.Duration
	tolerance float64
	logger    *zap.Logger
}

type Options struct {
	Feeds            map[string]string
	Cache            cache.Store
	LatestTTL        time.Duration
	TolerancePercent float64
}

func NewHermes(client *jsonapi.Client, opts Options, logger *zap.Logger) *Hermes {
	if logger == nil {
		logger = zap.NewNop()
	}
	feeds := make(map[string]string, len(DefaultFeeds)+len(opts.Feeds))
	for k, v := range DefaultFeeds {
		feeds[k] = v
	}
	for k, v := range opts.Feeds {
		feeds[normalizeAsset(k)] = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	}
	ttl := opts.LatestTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Hermes{
		client:    client,
		feeds:     feeds,
		store:     opts.Cache,
		latestTTL: ttl,
		tolerance: opts.TolerancePercent,
		logger:    logger,
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

// normalizeAsset maps "btc", "BTC/USD" and "BTC_USD" to "BTC".
func normalizeAsset(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	for _, sep := range []string{"/", "_", "-"} {
		if i := strings.Index(a, sep); i > 0 {
			a = a[:i]
		}
	}
	return a
}

func (h *Hermes) Assets() []string {
	out := make([]string, 0, len(h.feeds))
	for k := range h.feeds {
		out = append(out, k)
	}
	return out
}

// Price returns the price of asset at timestamp, or the latest price when
// timestamp is zero.
func (h *Hermes) Price(ctx context.Context, asset string, timestamp int64) (Quote, error) {
	sym := normalizeAsset(asset)
	feed, ok := h.feeds[sym]
	if !ok {
		return Quote{}, protocol.ErrInvalidPrice.With("no price feed for %q", asset)
	}
	if timestamp < 0 {
		return Quote{}, protocol.ErrInvalidPrice.With("negative timestamp")
	}

	key := fmt.Sprintf("oracle:%s:%d", sym, timestamp)
	var cached Quote
	if found, _ := cache.GetJSON(ctx, h.store, key, &cached); found {
		return cached, nil
	}

	path := "/v2/updates/price/latest"
	if timestamp > 0 {
		path = "/v2/updates/price/" + strconv.FormatInt(timestamp, 10)
	}
	query := url.Values{}
	query.Add("ids[]", feed)
	query.Set("parsed", "true")

	var resp hermesResponse
	if err := h.client.Do(ctx, jsonapi.Request{Method: http.MethodGet, Path: path, Query: query}, &resp); err != nil {
		h.logger.Warn("oracle request failed", zap.String("asset", sym), zap.Int64("timestamp", timestamp), zap.Error(err))
		return Quote{}, protocol.ErrOracleUnavailable.Wrap(err)
	}
	if len(resp.Parsed) == 0 {
		return Quote{}, protocol.ErrOracleUnavailable.With("no price data for %s", sym)
	}
	q, err := toQuote(sym, feed, resp.Parsed[0].Price)
	if err != nil {
		return Quote{}, protocol.ErrOracleUnavailable.Wrap(err)
	}

	// Historical prices never change.
	ttl := h.latestTTL
	if timestamp > 0 {
		ttl = 0
	}
	if err := cache.SetJSON(ctx, h.store, key, q, ttl); err != nil {
		h.logger.Debug("oracle cache write failed", zap.Error(err))
	}
	return q, nil
}

func toQuote(asset, feed string, p hermesPrice) (Quote, error) {
	raw, err := strconv.ParseInt(strings.TrimSpace(p.Price), 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price %q: %w", p.Price, err)
	}
	var conf int64
	if strings.TrimSpace(p.Conf) != "" {
		conf, err = strconv.ParseInt(strings.TrimSpace(p.Conf), 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("parse conf %q: %w", p.Conf, err)
		}
	}
	return Quote{
		Asset:       asset,
		FeedID:      feed,
		Price:       protocol.ScaleExponent(raw, p.Expo),
		Confidence:  protocol.ScaleExponent(conf, p.Expo),
		PublishTime: p.PublishTime,
	}, nil
}

// Check compares one claim with the oracle price at the claim's timestamp.
func (h *Hermes) Check(ctx context.Context, claim protocol.PriceClaim) (protocol.PriceCheck, error) {
	q, err := h.Price(ctx, claim.Asset, claim.Timestamp)
	if err != nil {
		return protocol.PriceCheck{}, err
	}
	return protocol.WithinTolerance(q.Asset, claim.Price, q.Price, h.tolerance)
}

// CheckAll checks every claim in order and stops at the first oracle error.
func (h *Hermes) CheckAll(ctx context.Context, claims []protocol.PriceClaim) ([]protocol.PriceCheck, error) {
	out := make([]protocol.PriceCheck, 0, len(claims))
	for _, c := range claims {
		chk, err := h.Check(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, chk)
	}
	return out, nil
}
