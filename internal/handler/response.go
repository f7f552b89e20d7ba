package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stratflow/internal/protocol"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// StatusFor maps a settlement error to an HTTP status.
func StatusFor(err error) int {
	switch protocol.KindOf(err) {
	case protocol.KindNotFound:
		return http.StatusNotFound
	case protocol.KindState:
		return http.StatusConflict
	case protocol.KindValidation:
		return http.StatusBadRequest
	case protocol.KindPermission:
		return http.StatusForbidden
	case protocol.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err with its reason code in meta so clients never have to
// parse the message. Unclassified errors are logged and masked.
func Fail(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusFor(err)
	code := protocol.CodeOf(err)
	if code == "" || status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed",
				zap.String("route", c.FullPath()),
				zap.String("method", c.Request.Method),
				zap.Error(err),
			)
		}
	}
	if code == "" {
		Error(c, status, "internal error", map[string]any{"reason": "internal"})
		return
	}
	meta := map[string]any{"reason": code, "retryable": protocol.IsRetryable(err)}
	Error(c, status, err.Error(), meta)
}
