package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stratflow/internal/auth"
	"stratflow/internal/protocol"
	"stratflow/internal/service"
)

type raiseDisputeRequest struct {
	// Reason is a code (1, 2, 3) or its name.
	Reason  any    `json:"reason"`
	Details string `json:"details"`
}

func parseReason(v any) (protocol.ReasonCode, bool) {
	switch r := v.(type) {
	case float64:
		code := protocol.ReasonCode(int(r))
		return code, float64(int(r)) == r && code.Valid()
	case string:
		return protocol.ParseReasonCode(r)
	default:
		return 0, false
	}
}

// @Summary Raise a dispute (strategy creator, window open)
// @Tags disputes
// @Param id path int true "execution id"
// @Param body body raiseDisputeRequest true "reason"
// @Success 200 {object} models.Dispute
// @Router /api/v1/executions/{id}/dispute [post]
func (h *SettlementHandler) raiseDispute(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req raiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	code, ok := parseReason(req.Reason)
	if !ok {
		Fail(c, h.Logger, protocol.ErrInvalidReason)
		return
	}
	item, err := h.Service.RaiseDispute(c.Request.Context(), service.DisputeInput{
		ExecutionID: id,
		ReasonCode:  code,
		Details:     req.Details,
		Requester:   auth.IdentityFrom(c),
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Dispute for an execution
// @Tags disputes
// @Param id path int true "execution id"
// @Success 200 {object} models.Dispute
// @Router /api/v1/executions/{id}/dispute [get]
func (h *SettlementHandler) getDispute(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Service.GetDispute(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Get a dispute by its id
// @Tags disputes
// @Param id path int true "dispute id"
// @Success 200 {object} models.Dispute
// @Router /api/v1/disputes/{id} [get]
func (h *SettlementHandler) getDisputeByID(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Service.GetDisputeByID(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Run the secondary AI review of a dispute
// @Tags disputes
// @Param id path int true "execution id"
// @Success 200 {object} models.Execution
// @Router /api/v1/executions/{id}/dispute/review [post]
func (h *SettlementHandler) reviewDispute(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, review, err := h.Service.ReviewDispute(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, map[string]any{"review": review})
}

type resolveDisputeRequest struct {
	Upheld     bool     `json:"upheld"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Evidence   []string `json:"evidence"`
}

// @Summary Resolve a dispute by hand (arbiter)
// @Tags disputes
// @Param id path int true "execution id"
// @Param body body resolveDisputeRequest true "decision"
// @Success 200 {object} models.Execution
// @Router /api/v1/executions/{id}/dispute/resolve [post]
func (h *SettlementHandler) resolveDispute(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.ResolveDispute(c.Request.Context(), id, protocol.Review{
		Upheld:     req.Upheld,
		Confidence: req.Confidence,
		Reason:     req.Reason,
		Evidence:   req.Evidence,
	}, "arbiter:"+auth.IdentityFrom(c))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary List disputes
// @Tags disputes
// @Param resolution query string false "pending, upheld or dismissed"
// @Param challenger query string false "challenger identity"
// @Success 200 {array} models.Dispute
// @Router /api/v1/disputes [get]
func (h *SettlementHandler) listDisputes(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Service.ListDisputes(c.Request.Context(),
		strings.TrimSpace(c.Query("resolution")), strings.TrimSpace(c.Query("challenger")), limit, offset)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}
