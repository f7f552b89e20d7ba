package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stratflow/internal/protocol"
	"stratflow/internal/service"
)

const defaultWatchInterval = time.Second

// @Summary Live execution feed (websocket)
// @Description Pushes the execution view every interval until the execution
// @Description is terminal and its stream fully vested, or the client leaves.
// @Tags executions
// @Param id path int true "execution id"
// @Router /api/v1/executions/{id}/watch [get]
func (h *SettlementHandler) watch(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if !h.enabled(c, service.FeatureWatchFeed) {
		Error(c, http.StatusForbidden, "watch feed is disabled", map[string]any{"reason": "feature_disabled"})
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	// Fail before the upgrade so unknown ids get a normal JSON error.
	first, err := h.Service.GetExecution(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	interval := defaultWatchInterval
	if h.WatchInterval > 0 {
		interval = time.Duration(h.WatchInterval) * time.Millisecond
	}
	if err := h.pushLoop(ctx, conn, id, first, interval); err != nil && ctx.Err() == nil {
		if h.Logger != nil {
			h.Logger.Warn("watch feed closed", zap.Uint64("execution_id", id), zap.Error(err))
		}
		_ = conn.Close(websocket.StatusInternalError, "feed error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *SettlementHandler) pushLoop(ctx context.Context, conn *websocket.Conn, id uint64, view *service.ExecutionView, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, conn, view)
		cancel()
		if err != nil {
			return err
		}
		if settled(view) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		next, err := h.Service.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		view = next
	}
}

// settled reports whether nothing in the view can change anymore.
func settled(view *service.ExecutionView) bool {
	if view == nil || view.Execution == nil {
		return true
	}
	status := protocol.Status(view.Execution.Status)
	switch status {
	case protocol.StatusRejected, protocol.StatusSlashed:
		return true
	}
	if !status.Streams() {
		return false
	}
	return view.Stream != nil && view.Stream.Accrual.Complete && view.Stream.Accrual.Available.IsZero()
}
