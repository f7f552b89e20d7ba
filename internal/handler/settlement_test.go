package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stratflow/internal/auth"
	"stratflow/internal/models"
	"stratflow/internal/oracle"
	"stratflow/internal/protocol"
	"stratflow/internal/service"
)

// fakeSettlement embeds the interface so tests only stub what they call.
type fakeSettlement struct {
	Settlement

	submitted   service.SubmitInput
	disputed    service.DisputeInput
	verdict     protocol.Verdict
	resolvedBy  string
	filter      service.ExecutionFilter
	withdrawReq service.WithdrawInput
	err         error
	view        *service.ExecutionView
}

func (f *fakeSettlement) Submit(_ context.Context, in service.SubmitInput) (*models.Execution, error) {
	f.submitted = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.Execution{ID: 7, StrategyID: in.StrategyID, Executor: in.Executor, Status: string(protocol.StatusPending)}, nil
}

func (f *fakeSettlement) RaiseDispute(_ context.Context, in service.DisputeInput) (*models.Dispute, error) {
	f.disputed = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.Dispute{ID: 1, ExecutionID: in.ExecutionID, ReasonCode: int(in.ReasonCode)}, nil
}

func (f *fakeSettlement) ApplyVerification(_ context.Context, id uint64, v protocol.Verdict) (*models.Execution, error) {
	f.verdict = v
	return &models.Execution{ID: id, Status: string(protocol.StatusApproved)}, f.err
}

func (f *fakeSettlement) ResolveDispute(_ context.Context, id uint64, _ protocol.Review, by string) (*models.Execution, error) {
	f.resolvedBy = by
	return &models.Execution{ID: id, Status: string(protocol.StatusCleared)}, f.err
}

func (f *fakeSettlement) ListExecutions(_ context.Context, filter service.ExecutionFilter) ([]models.Execution, int64, error) {
	f.filter = filter
	return []models.Execution{{ID: 1}}, 3, f.err
}

func (f *fakeSettlement) Withdraw(_ context.Context, in service.WithdrawInput) (*models.RewardStream, protocol.Accrual, error) {
	f.withdrawReq = in
	if f.err != nil {
		return nil, protocol.Accrual{}, f.err
	}
	return &models.RewardStream{ExecutionID: in.ExecutionID, Withdrawn: in.Amount}, protocol.Accrual{}, nil
}

func (f *fakeSettlement) GetExecution(_ context.Context, id uint64) (*service.ExecutionView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.view, nil
}

func (f *fakeSettlement) Finalize(_ context.Context, id uint64, caller string) (*models.Execution, *models.RewardStream, error) {
	return nil, nil, f.err
}

func (f *fakeSettlement) GetDisputeByID(_ context.Context, id uint64) (*models.Dispute, error) {
	if id != 1 {
		return nil, protocol.ErrDisputeNotFound
	}
	return &models.Dispute{ID: 1, ExecutionID: 7, Challenger: "creator"}, nil
}

type staticSwitches map[string]bool

func (s staticSwitches) IsEnabled(_ context.Context, key string, fallback bool) bool {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

func newRouter(h *SettlementHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(auth.Middleware(auth.JWT{}, true))
	h.Register(r)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func do(t *testing.T, r http.Handler, method, path, identity, role string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(auth.DevIdentityHeader, identity)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestSubmitUsesCallerAndIdempotencyKey(t *testing.T) {
	fake := &fakeSettlement{}
	r := newRouter(&SettlementHandler{Service: fake})

	body := map[string]any{
		"strategy_id": 3,
		"proof":       map[string]any{"title": "run", "pnl": "12.5"},
		"contents":    []string{"https://example.com/shot.png", "  "},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(mustJSON(t, body)))
	req.Header.Set(auth.DevIdentityHeader, "trader")
	req.Header.Set("Idempotency-Key", "k-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "trader", fake.submitted.Executor)
	assert.Equal(t, "k-1", fake.submitted.IdempotencyKey)
	assert.Equal(t, uint64(3), fake.submitted.StrategyID)
	require.Len(t, fake.submitted.Proof.Evidence, 1)
	assert.True(t, fake.submitted.Proof.PnL.Equal(decimal.RequireFromString("12.5")))
}

func TestSubmitRequiresIdentity(t *testing.T) {
	r := newRouter(&SettlementHandler{Service: &fakeSettlement{}})
	w, _ := do(t, r, http.MethodPost, "/api/v1/executions", "", "", map[string]any{"strategy_id": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisputeErrorsCarryReason(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{protocol.ErrWindowClosed, http.StatusConflict, "window_closed"},
		{protocol.ErrNotWindowOwner, http.StatusForbidden, "not_window_owner"},
		{protocol.ErrExecutionNotFound, http.StatusNotFound, "execution_not_found"},
		{protocol.ErrInvalidState.With("status rejected"), http.StatusConflict, "invalid_state"},
		{protocol.ErrLedgerUnavailable, http.StatusServiceUnavailable, "ledger_unavailable"},
	}
	for _, tc := range cases {
		fake := &fakeSettlement{err: tc.err}
		r := newRouter(&SettlementHandler{Service: fake})
		w, env := do(t, r, http.MethodPost, "/api/v1/executions/5/dispute", "creator", "", map[string]any{"reason": 1, "details": "x"})
		assert.Equal(t, tc.status, w.Code, tc.reason)
		assert.Equal(t, tc.reason, env.Meta["reason"])
	}
}

func TestDisputeAcceptsCodeOrName(t *testing.T) {
	fake := &fakeSettlement{}
	r := newRouter(&SettlementHandler{Service: fake})

	w, _ := do(t, r, http.MethodPost, "/api/v1/executions/5/dispute", "creator", "", map[string]any{"reason": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, protocol.ReasonPlagiarized, fake.disputed.ReasonCode)
	assert.Equal(t, "creator", fake.disputed.Requester)
	assert.Equal(t, uint64(5), fake.disputed.ExecutionID)

	w, env := do(t, r, http.MethodPost, "/api/v1/executions/5/dispute", "creator", "", map[string]any{"reason": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_reason", env.Meta["reason"])

	w, _ = do(t, r, http.MethodPost, "/api/v1/executions/5/dispute", "creator", "", map[string]any{"reason": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualVerdictIsGated(t *testing.T) {
	fake := &fakeSettlement{}
	h := &SettlementHandler{Service: fake}
	r := newRouter(h)
	body := map[string]any{"approved": true, "confidence": 0.9, "reason": "checked"}

	w, _ := do(t, r, http.MethodPost, "/api/v1/executions/2/verdict", "ops", auth.RoleUser, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/v1/executions/2/verdict", "ops", auth.RoleArbiter, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "feature_disabled", env.Meta["reason"])

	h.Flags = staticSwitches{service.FeatureManualVerdict: true}
	w, _ = do(t, r, http.MethodPost, "/api/v1/executions/2/verdict", "ops", auth.RoleArbiter, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.verdict.Approved)
	assert.Contains(t, fake.verdict.Reason, "manual: ops")
}

func TestResolveNeedsArbiter(t *testing.T) {
	fake := &fakeSettlement{}
	r := newRouter(&SettlementHandler{Service: fake})
	body := map[string]any{"upheld": true, "confidence": 0.95, "reason": "forged"}

	w, _ := do(t, r, http.MethodPost, "/api/v1/executions/4/dispute/resolve", "creator", auth.RoleUser, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/executions/4/dispute/resolve", "judge", auth.RoleArbiter, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "arbiter:judge", fake.resolvedBy)
}

func TestListExecutionsFilterAndMeta(t *testing.T) {
	fake := &fakeSettlement{}
	r := newRouter(&SettlementHandler{Service: fake})
	w, env := do(t, r, http.MethodGet, "/api/v1/executions?strategy_id=9&status=approved,disputed&limit=1", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, fake.filter.StrategyID)
	assert.Equal(t, uint64(9), *fake.filter.StrategyID)
	assert.Equal(t, []string{"approved", "disputed"}, fake.filter.Statuses)
	assert.Equal(t, float64(3), env.Meta["total"])
	assert.Equal(t, true, env.Meta["has_next"])
}

func TestWithdrawPassesAmount(t *testing.T) {
	fake := &fakeSettlement{}
	r := newRouter(&SettlementHandler{Service: fake})
	w, _ := do(t, r, http.MethodPost, "/api/v1/executions/8/withdraw", "trader", "", map[string]any{"amount": "200"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trader", fake.withdrawReq.Requester)
	assert.True(t, fake.withdrawReq.Amount.Equal(decimal.NewFromInt(200)))
	assert.Empty(t, fake.withdrawReq.Key)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions/8/withdraw", strings.NewReader(`{"amount":"5"}`))
	req.Header.Set(auth.DevIdentityHeader, "trader")
	req.Header.Set("Idempotency-Key", " w-1 ")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "w-1", fake.withdrawReq.Key)
}

func TestGetDisputeByID(t *testing.T) {
	r := newRouter(&SettlementHandler{Service: &fakeSettlement{}})
	w, env := do(t, r, http.MethodGet, "/api/v1/disputes/1", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var d models.Dispute
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, uint64(7), d.ExecutionID)

	w, env = do(t, r, http.MethodGet, "/api/v1/disputes/2", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "dispute_not_found", env.Meta["reason"])
}

func TestUnclassifiedErrorsAreMasked(t *testing.T) {
	fake := &fakeSettlement{err: errors.New("pq: connection reset")}
	r := newRouter(&SettlementHandler{Service: fake})
	w, env := do(t, r, http.MethodPost, "/api/v1/executions/1/finalize", "", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Message)
	assert.Equal(t, "internal", env.Meta["reason"])
}

func TestInvalidID(t *testing.T) {
	r := newRouter(&SettlementHandler{Service: &fakeSettlement{}})
	w, _ := do(t, r, http.MethodGet, "/api/v1/executions/abc", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchPushesUntilSettled(t *testing.T) {
	fake := &fakeSettlement{view: &service.ExecutionView{
		Execution: &models.Execution{ID: 6, Status: string(protocol.StatusRejected)},
		Now:       42,
	}}
	srv := httptest.NewServer(newRouter(&SettlementHandler{Service: fake, WatchInterval: 10}))
	defer srv.Close()

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/executions/6/watch", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var got service.ExecutionView
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, uint64(6), got.Execution.ID)
	assert.Equal(t, int64(42), got.Now)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWatchUnknownExecution(t *testing.T) {
	r := newRouter(&SettlementHandler{Service: &fakeSettlement{err: protocol.ErrExecutionNotFound}})
	w, _ := do(t, r, http.MethodGet, "/api/v1/executions/6/watch", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeOracle struct{}

func (fakeOracle) Price(_ context.Context, asset string, ts int64) (oracle.Quote, error) {
	if asset != "BTC" {
		return oracle.Quote{}, protocol.ErrInvalidPrice.With("no feed")
	}
	return oracle.Quote{Asset: asset, Price: decimal.NewFromInt(65000), PublishTime: ts}, nil
}

func (fakeOracle) Check(_ context.Context, c protocol.PriceClaim) (protocol.PriceCheck, error) {
	return protocol.WithinTolerance(c.Asset, c.Price, decimal.NewFromInt(65000), 2)
}

func (fakeOracle) Assets() []string { return []string{"ETH", "BTC"} }

func TestOracleRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&OracleHandler{Oracle: fakeOracle{}}).Register(r)

	w, env := do(t, r, http.MethodGet, "/api/v1/oracle/assets", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["BTC","ETH"]`, string(env.Data))

	w, _ = do(t, r, http.MethodGet, "/api/v1/oracle/price?asset=DOGE", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/oracle/check", "", "", map[string]any{"asset": "BTC", "price": "66000"})
	require.Equal(t, http.StatusOK, w.Code)
	var chk protocol.PriceCheck
	require.NoError(t, json.Unmarshal(env.Data, &chk))
	assert.True(t, chk.Valid)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
