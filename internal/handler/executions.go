package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stratflow/internal/auth"
	"stratflow/internal/protocol"
	"stratflow/internal/service"
)

type submitRequest struct {
	StrategyID uint64         `json:"strategy_id"`
	Proof      protocol.Proof `json:"proof"`
	// Contents are classified into evidence items when Proof.Evidence is
	// empty, the way the submission form does it.
	Contents []string `json:"contents,omitempty"`
}

// @Summary Submit an execution and lock the stake
// @Tags executions
// @Accept json
// @Param Idempotency-Key header string false "retry key"
// @Param body body submitRequest true "submission"
// @Success 200 {object} models.Execution
// @Router /api/v1/executions [post]
func (h *SettlementHandler) submit(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if len(req.Proof.Evidence) == 0 {
		for _, content := range req.Contents {
			if strings.TrimSpace(content) != "" {
				req.Proof.Evidence = append(req.Proof.Evidence, protocol.DetectEvidence(content))
			}
		}
	}
	item, err := h.Service.Submit(c.Request.Context(), service.SubmitInput{
		StrategyID:     req.StrategyID,
		Executor:       auth.IdentityFrom(c),
		Proof:          req.Proof,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary List executions
// @Tags executions
// @Param strategy_id query int false "strategy id"
// @Param executor query string false "executor identity"
// @Param status query string false "comma separated statuses"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {array} models.Execution
// @Router /api/v1/executions [get]
func (h *SettlementHandler) listExecutions(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	f := service.ExecutionFilter{
		Executor: strings.TrimSpace(c.Query("executor")),
		Statuses: csvQuery(c, "status"),
		Limit:    limit,
		Offset:   offset,
		OrderBy:  c.Query("order_by"),
		Asc:      boolQueryPtr(c, "asc"),
	}
	if v := int64Query(c, "strategy_id"); v > 0 {
		sid := uint64(v)
		f.StrategyID = &sid
	}
	items, total, err := h.Service.ListExecutions(c.Request.Context(), f)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Execution with window, dispute and stream state
// @Tags executions
// @Param id path int true "execution id"
// @Success 200 {object} service.ExecutionView
// @Router /api/v1/executions/{id} [get]
func (h *SettlementHandler) getExecution(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	view, err := h.Service.GetExecution(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, view, nil)
}

// @Summary Dispute window state
// @Tags executions
// @Param id path int true "execution id"
// @Success 200 {object} protocol.WindowState
// @Router /api/v1/executions/{id}/window [get]
func (h *SettlementHandler) window(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	state, status, err := h.Service.WindowStatus(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, state, map[string]any{"status": status})
}

// @Summary Run AI verification on a pending execution
// @Tags executions
// @Param id path int true "execution id"
// @Success 200 {object} models.Execution
// @Router /api/v1/executions/{id}/verify [post]
func (h *SettlementHandler) verify(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, verdict, err := h.Service.Verify(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, map[string]any{"verdict": verdict})
}

type verdictRequest struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// @Summary Apply a verdict by hand (arbiter, behind feature.manual_verdict)
// @Tags executions
// @Param id path int true "execution id"
// @Param body body verdictRequest true "verdict"
// @Success 200 {object} models.Execution
// @Router /api/v1/executions/{id}/verdict [post]
func (h *SettlementHandler) applyVerdict(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if !h.enabled(c, service.FeatureManualVerdict) {
		Error(c, http.StatusForbidden, "manual verdicts are disabled", map[string]any{"reason": "feature_disabled"})
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.ApplyVerification(c.Request.Context(), id, protocol.Verdict{
		Approved:   req.Approved,
		Confidence: req.Confidence,
		Reason:     strings.TrimSpace(req.Reason) + " (manual: " + auth.IdentityFrom(c) + ")",
	})
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Finalize after the dispute window (anyone)
// @Tags executions
// @Param id path int true "execution id"
// @Success 200 {object} models.RewardStream
// @Router /api/v1/executions/{id}/finalize [post]
func (h *SettlementHandler) finalize(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	caller := auth.IdentityFrom(c)
	item, stream, err := h.Service.Finalize(c.Request.Context(), id, caller)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"execution": item, "stream": stream}, nil)
}
