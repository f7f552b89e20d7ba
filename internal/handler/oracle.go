package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stratflow/internal/oracle"
	"stratflow/internal/protocol"
)

type PriceOracle interface {
	Price(ctx context.Context, asset string, timestamp int64) (oracle.Quote, error)
	Check(ctx context.Context, claim protocol.PriceClaim) (protocol.PriceCheck, error)
	Assets() []string
}

// OracleHandler exposes the reference price feed used by verification.
type OracleHandler struct {
	Oracle PriceOracle
	Logger *zap.Logger
}

func (h *OracleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/oracle")
	g.GET("/assets", h.assets)
	g.GET("/price", h.price)
	g.POST("/check", h.check)
}

func (h *OracleHandler) ready(c *gin.Context) bool {
	if h.Oracle == nil {
		Fail(c, h.Logger, protocol.ErrOracleUnavailable.With("price oracle not configured"))
		return false
	}
	return true
}

// @Summary Supported assets
// @Tags oracle
// @Success 200 {array} string
// @Router /api/v1/oracle/assets [get]
func (h *OracleHandler) assets(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	out := h.Oracle.Assets()
	sort.Strings(out)
	Ok(c, out, nil)
}

// @Summary Reference price
// @Tags oracle
// @Param asset query string true "asset symbol"
// @Param timestamp query int false "unix seconds, latest when omitted"
// @Success 200 {object} oracle.Quote
// @Router /api/v1/oracle/price [get]
func (h *OracleHandler) price(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	asset := strings.TrimSpace(c.Query("asset"))
	if asset == "" {
		Error(c, http.StatusBadRequest, "asset required", nil)
		return
	}
	q, err := h.Oracle.Price(c.Request.Context(), asset, int64Query(c, "timestamp"))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, q, nil)
}

type checkRequest struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// @Summary Check a price claim against the oracle
// @Tags oracle
// @Param body body checkRequest true "claim"
// @Success 200 {object} protocol.PriceCheck
// @Router /api/v1/oracle/check [post]
func (h *OracleHandler) check(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	res, err := h.Oracle.Check(c.Request.Context(), protocol.PriceClaim{Asset: req.Asset, Price: req.Price, Timestamp: req.Timestamp})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, res, nil)
}
