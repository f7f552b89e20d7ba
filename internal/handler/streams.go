package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stratflow/internal/auth"
	"stratflow/internal/service"
)

// @Summary Reward stream with live accrual
// @Tags streams
// @Param id path int true "execution id"
// @Success 200 {object} service.StreamView
// @Router /api/v1/executions/{id}/stream [get]
func (h *SettlementHandler) streamStatus(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	view, err := h.Service.StreamStatus(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, view, nil)
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// @Summary Withdraw vested reward (executor only)
// @Tags streams
// @Param id path int true "execution id"
// @Param Idempotency-Key header string false "retry key"
// @Param body body withdrawRequest true "amount"
// @Success 200 {object} models.RewardStream
// @Router /api/v1/executions/{id}/withdraw [post]
func (h *SettlementHandler) withdraw(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	stream, accrual, err := h.Service.Withdraw(c.Request.Context(), service.WithdrawInput{
		ExecutionID: id,
		Amount:      req.Amount,
		Requester:   auth.IdentityFrom(c),
		Key:         strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, stream, map[string]any{"accrual": accrual})
}

// @Summary List reward streams
// @Tags streams
// @Param executor query string false "executor identity"
// @Success 200 {array} service.StreamView
// @Router /api/v1/streams [get]
func (h *SettlementHandler) listStreams(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Service.ListStreams(c.Request.Context(), strings.TrimSpace(c.Query("executor")), limit, offset)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}

// @Summary Ledger entries of the caller
// @Tags streams
// @Param execution_id query int false "execution id"
// @Success 200 {array} models.LedgerEntry
// @Router /api/v1/ledger [get]
func (h *SettlementHandler) ledgerHistory(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	var execID uint64
	if v := int64Query(c, "execution_id"); v > 0 {
		execID = uint64(v)
	}
	items, err := h.Service.LedgerHistory(c.Request.Context(), auth.IdentityFrom(c), execID, limit, offset)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}
