package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# StratFlow Settlement Service

Verifies strategy executions, runs the dispute window and streams rewards.

## Auth

Write routes need a Bearer token whose subject is the caller's ledger
account. Arbiter routes need role "arbiter". Reads are public except the
ledger history.

## Lifecycle

pending -> approved | rejected
approved -> disputed (creator, inside the window) | finalized (after it)
disputed -> cleared | slashed

Errors carry meta.reason (e.g. window_open, window_closed, not_window_owner)
and meta.retryable.

## Routes

- GET /healthz, GET /readyz, GET /swagger/index.html
- GET /api/v1/protocol
- POST /api/v1/strategies, GET /api/v1/strategies[/:id], PUT /api/v1/strategies/:id/active
- POST /api/v1/executions (Idempotency-Key), GET /api/v1/executions[/:id]
- POST /api/v1/executions/:id/verify, POST /api/v1/executions/:id/verdict
- GET /api/v1/executions/:id/window, POST /api/v1/executions/:id/finalize
- POST|GET /api/v1/executions/:id/dispute, POST .../dispute/review, POST .../dispute/resolve
- GET /api/v1/executions/:id/stream, POST /api/v1/executions/:id/withdraw
- GET /api/v1/executions/:id/watch (websocket)
- GET /api/v1/disputes, GET /api/v1/streams, GET /api/v1/ledger
- GET /api/v1/oracle/assets, GET /api/v1/oracle/price, POST /api/v1/oracle/check
- /api/v1/system-settings
`)
	})
}
