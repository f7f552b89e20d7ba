package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stratflow/internal/auth"
	"stratflow/internal/models"
	"stratflow/internal/protocol"
	"stratflow/internal/service"
)

// Settlement is the part of service.SettlementService the API exposes.
type Settlement interface {
	CreateStrategy(ctx context.Context, in service.StrategyInput) (*models.Strategy, error)
	SetStrategyActive(ctx context.Context, id uint64, requester string, active bool) (*models.Strategy, error)
	GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error)
	ListStrategies(ctx context.Context, f service.StrategyFilter) ([]models.Strategy, int64, error)

	Submit(ctx context.Context, in service.SubmitInput) (*models.Execution, error)
	Verify(ctx context.Context, id uint64) (*models.Execution, protocol.Verdict, error)
	ApplyVerification(ctx context.Context, id uint64, verdict protocol.Verdict) (*models.Execution, error)
	GetExecution(ctx context.Context, id uint64) (*service.ExecutionView, error)
	ListExecutions(ctx context.Context, f service.ExecutionFilter) ([]models.Execution, int64, error)
	WindowStatus(ctx context.Context, id uint64) (protocol.WindowState, string, error)
	Finalize(ctx context.Context, id uint64, caller string) (*models.Execution, *models.RewardStream, error)

	RaiseDispute(ctx context.Context, in service.DisputeInput) (*models.Dispute, error)
	GetDispute(ctx context.Context, executionID uint64) (*models.Dispute, error)
	GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error)
	ListDisputes(ctx context.Context, resolution, challenger string, limit, offset int) ([]models.Dispute, error)
	ReviewDispute(ctx context.Context, id uint64) (*models.Execution, protocol.Review, error)
	ResolveDispute(ctx context.Context, id uint64, review protocol.Review, resolvedBy string) (*models.Execution, error)

	StreamStatus(ctx context.Context, executionID uint64) (*service.StreamView, error)
	Withdraw(ctx context.Context, in service.WithdrawInput) (*models.RewardStream, protocol.Accrual, error)
	ListStreams(ctx context.Context, executor string, limit, offset int) ([]service.StreamView, error)
	LedgerHistory(ctx context.Context, identity string, executionID uint64, limit, offset int) ([]models.LedgerEntry, error)

	Constants() service.ProtocolConstants
}

var _ Settlement = (*service.SettlementService)(nil)

type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

// SettlementHandler serves /api/v1: strategies, executions, disputes,
// reward streams and the live watch feed.
type SettlementHandler struct {
	Service Settlement
	Flags   Switches
	Logger  *zap.Logger

	// WatchInterval is the watch feed push period in milliseconds.
	WatchInterval int64
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/protocol", h.constants)

	g.GET("/strategies", h.listStrategies)
	g.POST("/strategies", auth.Require(), h.createStrategy)
	g.GET("/strategies/:id", h.getStrategy)
	g.PUT("/strategies/:id/active", auth.Require(), h.setStrategyActive)

	g.GET("/executions", h.listExecutions)
	g.POST("/executions", auth.Require(), h.submit)
	g.GET("/executions/:id", h.getExecution)
	g.GET("/executions/:id/window", h.window)
	g.GET("/executions/:id/watch", h.watch)
	g.POST("/executions/:id/verify", auth.Require(), h.verify)
	g.POST("/executions/:id/verdict", auth.Require(auth.RoleArbiter, auth.RoleSystem), h.applyVerdict)
	g.POST("/executions/:id/finalize", h.finalize)

	g.POST("/executions/:id/dispute", auth.Require(), h.raiseDispute)
	g.GET("/executions/:id/dispute", h.getDispute)
	g.POST("/executions/:id/dispute/review", auth.Require(), h.reviewDispute)
	g.POST("/executions/:id/dispute/resolve", auth.Require(auth.RoleArbiter), h.resolveDispute)
	g.GET("/disputes", h.listDisputes)
	g.GET("/disputes/:id", h.getDisputeByID)

	g.GET("/executions/:id/stream", h.streamStatus)
	g.POST("/executions/:id/withdraw", auth.Require(), h.withdraw)
	g.GET("/streams", h.listStreams)
	g.GET("/ledger", auth.Require(), h.ledgerHistory)
}

func (h *SettlementHandler) ready(c *gin.Context) bool {
	if h.Service == nil {
		Error(c, 500, "settlement service unavailable", nil)
		return false
	}
	return true
}

func (h *SettlementHandler) enabled(c *gin.Context, key string) bool {
	fallback := service.DefaultFeatureSwitches()[key]
	if h.Flags == nil {
		return fallback
	}
	return h.Flags.IsEnabled(c.Request.Context(), key, fallback)
}

// @Summary Protocol constants
// @Tags protocol
// @Success 200 {object} service.ProtocolConstants
// @Router /api/v1/protocol [get]
func (h *SettlementHandler) constants(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	Ok(c, h.Service.Constants(), nil)
}
