package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stratflow/internal/models"
	"stratflow/internal/repository"
)

// memRepo keeps rows in maps. InTx holds txMu for the whole callback so
// transactions are serialized the way row locks serialize them in postgres.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID     uint64
	strategies map[uint64]*models.Strategy
	executions map[uint64]*models.Execution
	disputes   map[uint64]*models.Dispute
	streams    map[uint64]*models.RewardStream
	ledger     map[string]*models.LedgerEntry
	settings   map[string]*models.SystemSetting
	audit      []models.AuditEvent

	failInsertExecution error
	// failSettleWithdrawal fails the next SettleWithdrawalTx once.
	failSettleWithdrawal error
	// onInsertExecution runs before the insert, outside any lock.
	onInsertExecution func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		strategies: map[uint64]*models.Strategy{},
		executions: map[uint64]*models.Execution{},
		disputes:   map[uint64]*models.Dispute{},
		streams:    map[uint64]*models.RewardStream{},
		ledger:     map[string]*models.LedgerEntry{},
		settings:   map[string]*models.SystemSetting{},
	}
}

var _ repository.Repository = (*memRepo)(nil)

func (r *memRepo) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(nil)
}

func (r *memRepo) InsertStrategy(ctx context.Context, item *models.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = r.id()
	item.CreatedAt = time.Now()
	cp := *item
	r.strategies[item.ID] = &cp
	return nil
}

func (r *memRepo) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.strategies[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Strategy
	for _, s := range r.strategies {
		if params.Creator != nil && s.Creator != *params.Creator {
			continue
		}
		if params.Active != nil && s.Active != *params.Active {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CountStrategies(ctx context.Context, params repository.ListStrategiesParams) (int64, error) {
	items, err := r.ListStrategies(ctx, params)
	return int64(len(items)), err
}

func (r *memRepo) SetStrategyActive(ctx context.Context, id uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.strategies[id]; ok {
		s.Active = active
	}
	return nil
}

func (r *memRepo) InsertExecutionTx(ctx context.Context, tx *gorm.DB, item *models.Execution) error {
	if r.onInsertExecution != nil {
		r.onInsertExecution()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertExecution != nil {
		return r.failInsertExecution
	}
	for _, e := range r.executions {
		if e.SubmissionKey == item.SubmissionKey {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	item.ID = r.id()
	cp := *item
	r.executions[item.ID] = &cp
	return nil
}

func (r *memRepo) GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.executions[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetExecutionBySubmissionKey(ctx context.Context, key string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.executions {
		if e.SubmissionKey == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) LockExecutionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Execution, error) {
	return r.GetExecutionByID(ctx, id)
}

func (r *memRepo) UpdateExecutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			e.Status = v.(string)
		case "confidence":
			e.Confidence = v.(int)
		case "approved_at":
			e.ApprovedAt = v.(int64)
		case "verified":
			e.Verified = v.(bool)
		case "verdict_reason":
			e.VerdictReason = v.(string)
		case "verdict_flags":
			e.VerdictFlags = v.(datatypes.JSON)
		case "settled_by":
			e.SettledBy = v.(string)
		default:
			return errors.New("unexpected execution column " + k)
		}
	}
	return nil
}

func (r *memRepo) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Execution
	for _, e := range r.executions {
		if params.StrategyID != nil && e.StrategyID != *params.StrategyID {
			continue
		}
		if params.Executor != nil && e.Executor != *params.Executor {
			continue
		}
		if len(params.Statuses) > 0 && !contains(params.Statuses, e.Status) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (r *memRepo) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	params.Limit = 0
	items, err := r.ListExecutions(ctx, params)
	return int64(len(items)), err
}

func (r *memRepo) ListExecutionsDueForFinalize(ctx context.Context, approvedBefore int64, limit int) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, e := range r.executions {
		if e.Status == "approved" && e.ApprovedAt > 0 && e.ApprovedAt <= approvedBefore {
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memRepo) InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.disputes[item.ExecutionID]; ok {
		return errors.New("duplicate dispute")
	}
	item.ID = r.id()
	cp := *item
	r.disputes[item.ExecutionID] = &cp
	return nil
}

func (r *memRepo) GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.disputes {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetDisputeByExecutionID(ctx context.Context, executionID uint64) (*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.disputes[executionID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) LockDisputeByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.Dispute, error) {
	return r.GetDisputeByExecutionID(ctx, executionID)
}

func (r *memRepo) UpdateDisputeTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.disputes {
		if d.ID != id {
			continue
		}
		for k, v := range updates {
			switch k {
			case "resolution":
				d.Resolution = v.(string)
			case "secondary_confidence":
				d.SecondaryConfidence = v.(int)
			case "resolution_reason":
				d.ResolutionReason = v.(string)
			case "evidence":
				d.Evidence = v.(datatypes.JSON)
			case "resolved_by":
				d.ResolvedBy = v.(string)
			case "resolved_at":
				at := v.(time.Time)
				d.ResolvedAt = &at
			default:
				return errors.New("unexpected dispute column " + k)
			}
		}
	}
	return nil
}

func (r *memRepo) ListDisputes(ctx context.Context, params repository.ListDisputesParams) ([]models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Dispute
	for _, d := range r.disputes {
		if params.Resolution != nil && d.Resolution != *params.Resolution {
			continue
		}
		if params.Challenger != nil && d.Challenger != *params.Challenger {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) InsertRewardStreamTx(ctx context.Context, tx *gorm.DB, item *models.RewardStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[item.ExecutionID]; ok {
		return errors.New("duplicate stream")
	}
	item.ID = r.id()
	cp := *item
	r.streams[item.ExecutionID] = &cp
	return nil
}

func (r *memRepo) GetRewardStreamByExecutionID(ctx context.Context, executionID uint64) (*models.RewardStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[executionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) LockRewardStreamByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.RewardStream, error) {
	return r.GetRewardStreamByExecutionID(ctx, executionID)
}

func (r *memRepo) streamByID(id uint64) *models.RewardStream {
	for _, s := range r.streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *memRepo) ReserveWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, amount decimal.Decimal, ledgerKey, requestKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.streamByID(id)
	if s == nil {
		return nil
	}
	if s.PendingKey != "" || s.Withdrawn.Add(amount).GreaterThan(s.TotalAmount) {
		return errors.New("withdrawal would exceed total or one is pending")
	}
	s.PendingAmount = amount
	s.PendingKey = ledgerKey
	s.PendingRequest = requestKey
	return nil
}

func (r *memRepo) SettleWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, withdrawn decimal.Decimal, requestKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSettleWithdrawal; err != nil {
		r.failSettleWithdrawal = nil
		return err
	}
	s := r.streamByID(id)
	if s == nil {
		return nil
	}
	if withdrawn.GreaterThan(s.TotalAmount) {
		return errors.New("withdrawn exceeds total")
	}
	s.Withdrawn = withdrawn
	s.PendingAmount = decimal.Zero
	s.PendingKey = ""
	s.PendingRequest = ""
	s.LastRequest = requestKey
	return nil
}

func (r *memRepo) ReleaseWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.streamByID(id); s != nil {
		s.PendingAmount = decimal.Zero
		s.PendingKey = ""
		s.PendingRequest = ""
	}
	return nil
}

func (r *memRepo) ListRewardStreams(ctx context.Context, params repository.ListRewardStreamsParams) ([]models.RewardStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RewardStream
	for _, s := range r.streams {
		if params.Executor != nil && s.Executor != *params.Executor {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) InsertLedgerEntry(ctx context.Context, item *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledger[item.DedupeKey]; ok {
		return false, nil
	}
	item.ID = r.id()
	cp := *item
	r.ledger[item.DedupeKey] = &cp
	return true, nil
}

func (r *memRepo) GetLedgerEntryByDedupeKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.ledger[key]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) ListLedgerEntries(ctx context.Context, params repository.ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range r.ledger {
		if params.Kind != nil && e.Kind != *params.Kind {
			continue
		}
		if params.Identity != nil && e.Identity != *params.Identity {
			continue
		}
		if params.KeyPrefix != nil && !strings.HasPrefix(e.DedupeKey, *params.KeyPrefix) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.settings[item.Key] = &cp
	return nil
}

func (r *memRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[key]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SystemSetting
	for _, s := range r.settings {
		if params.Prefix != nil && !strings.HasPrefix(s.Key, *params.Prefix) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *memRepo) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	items, err := r.ListSystemSettings(ctx, params)
	return int64(len(items)), err
}

func (r *memRepo) InsertAuditEvent(ctx context.Context, item *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, *item)
	return nil
}

func (r *memRepo) ledgerKinds() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]string{}
	for k, e := range r.ledger {
		out[k] = e.Kind + ":" + e.Amount.String()
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
