package service

import (
	"context"
	"strings"

	"stratflow/internal/models"
	"stratflow/internal/protocol"
	"stratflow/internal/repository"
)

// ExecutionView is everything a client needs to render one execution. Time
// derived fields are computed from a single clock read.
type ExecutionView struct {
	Execution *models.Execution    `json:"execution"`
	Window    protocol.WindowState `json:"window"`
	Dispute   *models.Dispute      `json:"dispute,omitempty"`
	Stream    *StreamView          `json:"stream,omitempty"`
	Now       int64                `json:"now"`
}

type StreamView struct {
	Stream  *models.RewardStream `json:"stream"`
	Accrual protocol.Accrual     `json:"accrual"`
}

type ProtocolConstants struct {
	DisputeWindowSeconds int64             `json:"dispute_window_seconds"`
	StreamSeconds        int64             `json:"stream_seconds"`
	MinConfidence        float64           `json:"min_confidence"`
	TolerancePercent     float64           `json:"oracle_tolerance_percent"`
	AmountScale          int32             `json:"amount_scale"`
	ReasonCodes          map[int]string    `json:"reason_codes"`
	Statuses             []protocol.Status `json:"statuses"`
}

func (s *SettlementService) Constants() ProtocolConstants {
	minConf := s.MinConfidence
	if minConf <= 0 {
		minConf = protocol.DefaultMinConfidence
	}
	tol := s.TolerancePct
	if tol <= 0 {
		tol = protocol.DefaultTolerancePercent
	}
	return ProtocolConstants{
		DisputeWindowSeconds: s.windowSeconds(),
		StreamSeconds:        s.streamSeconds(),
		MinConfidence:        minConf,
		TolerancePercent:     tol,
		AmountScale:          protocol.AmountScale,
		ReasonCodes: map[int]string{
			int(protocol.ReasonFakeProof):   protocol.ReasonFakeProof.String(),
			int(protocol.ReasonIncomplete):  protocol.ReasonIncomplete.String(),
			int(protocol.ReasonPlagiarized): protocol.ReasonPlagiarized.String(),
		},
		Statuses: []protocol.Status{
			protocol.StatusPending, protocol.StatusApproved, protocol.StatusRejected,
			protocol.StatusDisputed, protocol.StatusCleared, protocol.StatusSlashed,
			protocol.StatusFinalized,
		},
	}
}

func (s *SettlementService) GetExecution(ctx context.Context, id uint64) (*ExecutionView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	exec, err := s.Repo.GetExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, protocol.ErrExecutionNotFound
	}
	now := s.now()
	view := &ExecutionView{
		Execution: exec,
		Window:    s.Window.State(protocol.Status(exec.Status), exec.ApprovedAt, now),
		Now:       now,
	}
	dispute, err := s.Repo.GetDisputeByExecutionID(ctx, id)
	if err != nil {
		return nil, err
	}
	view.Dispute = dispute
	if protocol.Status(exec.Status).Streams() {
		stream, err := s.Repo.GetRewardStreamByExecutionID(ctx, id)
		if err != nil {
			return nil, err
		}
		if stream != nil {
			acc, err := scheduleOf(stream).At(now)
			if err != nil {
				return nil, s.report("get_execution", id, err)
			}
			view.Stream = &StreamView{Stream: stream, Accrual: acc}
		}
	}
	return view, nil
}

// WindowStatus answers "can this execution still be disputed" without
// loading anything else.
func (s *SettlementService) WindowStatus(ctx context.Context, id uint64) (protocol.WindowState, string, error) {
	if err := s.ready(); err != nil {
		return protocol.WindowState{}, "", err
	}
	exec, err := s.Repo.GetExecutionByID(ctx, id)
	if err != nil {
		return protocol.WindowState{}, "", err
	}
	if exec == nil {
		return protocol.WindowState{}, "", protocol.ErrExecutionNotFound
	}
	return s.Window.State(protocol.Status(exec.Status), exec.ApprovedAt, s.now()), exec.Status, nil
}

// StreamStatus reports earned and available amounts at the current time.
func (s *SettlementService) StreamStatus(ctx context.Context, executionID uint64) (*StreamView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	stream, err := s.Repo.GetRewardStreamByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, protocol.ErrStreamNotFound
	}
	acc, err := scheduleOf(stream).At(s.now())
	if err != nil {
		return nil, s.report("stream_status", executionID, err)
	}
	return &StreamView{Stream: stream, Accrual: acc}, nil
}

func (s *SettlementService) GetDispute(ctx context.Context, executionID uint64) (*models.Dispute, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	d, err := s.Repo.GetDisputeByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, protocol.ErrDisputeNotFound
	}
	return d, nil
}

// GetDisputeByID looks a dispute up by its own id.
func (s *SettlementService) GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	d, err := s.Repo.GetDisputeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, protocol.ErrDisputeNotFound
	}
	return d, nil
}

type ExecutionFilter struct {
	StrategyID *uint64
	Executor   string
	Statuses   []string
	Limit      int
	Offset     int
	OrderBy    string
	Asc        *bool
}

func (s *SettlementService) ListExecutions(ctx context.Context, f ExecutionFilter) ([]models.Execution, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	params := repository.ListExecutionsParams{
		Limit:      f.Limit,
		Offset:     f.Offset,
		StrategyID: f.StrategyID,
		OrderBy:    f.OrderBy,
		Asc:        f.Asc,
	}
	if v := strings.TrimSpace(f.Executor); v != "" {
		params.Executor = &v
	}
	for _, raw := range f.Statuses {
		st, ok := protocol.ParseStatus(raw)
		if !ok {
			return nil, 0, protocol.ErrInvalidState.With("unknown status %q", raw)
		}
		params.Statuses = append(params.Statuses, string(st))
	}
	items, err := s.Repo.ListExecutions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountExecutions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type StrategyFilter struct {
	Creator string
	Active  *bool
	Limit   int
	Offset  int
	OrderBy string
	Asc     *bool
}

func (s *SettlementService) ListStrategies(ctx context.Context, f StrategyFilter) ([]models.Strategy, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	params := repository.ListStrategiesParams{
		Limit:   f.Limit,
		Offset:  f.Offset,
		Active:  f.Active,
		OrderBy: f.OrderBy,
		Asc:     f.Asc,
	}
	if v := strings.TrimSpace(f.Creator); v != "" {
		params.Creator = &v
	}
	items, err := s.Repo.ListStrategies(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountStrategies(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SettlementService) ListDisputes(ctx context.Context, resolution, challenger string, limit, offset int) ([]models.Dispute, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	params := repository.ListDisputesParams{Limit: limit, Offset: offset}
	if v := strings.TrimSpace(resolution); v != "" {
		params.Resolution = &v
	}
	if v := strings.TrimSpace(challenger); v != "" {
		params.Challenger = &v
	}
	return s.Repo.ListDisputes(ctx, params)
}

func (s *SettlementService) ListStreams(ctx context.Context, executor string, limit, offset int) ([]StreamView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	params := repository.ListRewardStreamsParams{Limit: limit, Offset: offset}
	if v := strings.TrimSpace(executor); v != "" {
		params.Executor = &v
	}
	items, err := s.Repo.ListRewardStreams(ctx, params)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]StreamView, 0, len(items))
	for i := range items {
		st := items[i]
		acc, err := scheduleOf(&st).At(now)
		if err != nil {
			return nil, s.report("list_streams", st.ExecutionID, err)
		}
		out = append(out, StreamView{Stream: &st, Accrual: acc})
	}
	return out, nil
}

// LedgerHistory lists journal movements for one identity or one execution.
func (s *SettlementService) LedgerHistory(ctx context.Context, identity string, executionID uint64, limit, offset int) ([]models.LedgerEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	params := repository.ListLedgerEntriesParams{Limit: limit, Offset: offset}
	if v := strings.TrimSpace(identity); v != "" {
		params.Identity = &v
	}
	if executionID > 0 {
		prefix := execKey(executionID, "")
		params.KeyPrefix = &prefix
	}
	return s.Repo.ListLedgerEntries(ctx, params)
}
