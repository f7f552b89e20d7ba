package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stratflow/internal/auth"
	"stratflow/internal/service"
)

type createStrategyRequest struct {
	Title              string          `json:"title"`
	Rules              []string        `json:"rules"`
	StakeAmount        decimal.Decimal `json:"stake_amount"`
	ProfitSharePercent int             `json:"profit_share_percent"`
}

// @Summary Publish a strategy
// @Tags strategies
// @Accept json
// @Param body body createStrategyRequest true "strategy"
// @Success 200 {object} models.Strategy
// @Router /api/v1/strategies [post]
func (h *SettlementHandler) createStrategy(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.CreateStrategy(c.Request.Context(), service.StrategyInput{
		Creator:            auth.IdentityFrom(c),
		Title:              req.Title,
		Rules:              req.Rules,
		StakeAmount:        req.StakeAmount,
		ProfitSharePercent: req.ProfitSharePercent,
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary List strategies
// @Tags strategies
// @Param creator query string false "creator identity"
// @Param active query bool false "active filter"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {array} models.Strategy
// @Router /api/v1/strategies [get]
func (h *SettlementHandler) listStrategies(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Service.ListStrategies(c.Request.Context(), service.StrategyFilter{
		Creator: strings.TrimSpace(c.Query("creator")),
		Active:  boolQueryPtr(c, "active"),
		Limit:   limit,
		Offset:  offset,
		OrderBy: c.Query("order_by"),
		Asc:     boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get a strategy
// @Tags strategies
// @Param id path int true "strategy id"
// @Success 200 {object} models.Strategy
// @Router /api/v1/strategies/{id} [get]
func (h *SettlementHandler) getStrategy(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Service.GetStrategy(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// @Summary Activate or deactivate a strategy (creator only)
// @Tags strategies
// @Param id path int true "strategy id"
// @Param body body setActiveRequest true "active flag"
// @Success 200 {object} models.Strategy
// @Router /api/v1/strategies/{id}/active [put]
func (h *SettlementHandler) setStrategyActive(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.SetStrategyActive(c.Request.Context(), id, auth.IdentityFrom(c), req.Active)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}
