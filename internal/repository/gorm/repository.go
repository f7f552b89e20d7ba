package gormrepository

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stratflow/internal/models"
	"stratflow/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ErrNoDatabase is returned by InTx when the store has no connection, so a
// transition never reports success without having run.
var ErrNoDatabase = errors.New("database not configured")

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return ErrNoDatabase
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn prefers the caller's transaction.
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func firstOrNil[T any](query *gorm.DB) (*T, error) {
	var item T
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- strategies -------------------------------------------------------------

func (s *Store) InsertStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return firstOrNil[models.Strategy](s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", id))
}

func (s *Store) strategiesQuery(ctx context.Context, params repository.ListStrategiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Strategy{})
	if params.Creator != nil && strings.TrimSpace(*params.Creator) != "" {
		query = query.Where("creator = ?", strings.TrimSpace(*params.Creator))
	}
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	return query
}

func (s *Store) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.strategiesQuery(ctx, params), params.OrderBy, params.Asc, "id")
	var items []models.Strategy
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountStrategies(ctx context.Context, params repository.ListStrategiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.strategiesQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) SetStrategyActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", id).Update("active", active).Error
}

// --- executions -------------------------------------------------------------

func (s *Store) InsertExecutionTx(ctx context.Context, tx *gorm.DB, item *models.Execution) error {
	if s == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return firstOrNil[models.Execution](s.db.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", id))
}

func (s *Store) GetExecutionBySubmissionKey(ctx context.Context, key string) (*models.Execution, error) {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return nil, nil
	}
	return firstOrNil[models.Execution](s.db.WithContext(ctx).Model(&models.Execution{}).Where("submission_key = ?", key))
}

func (s *Store) LockExecutionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Execution, error) {
	if s == nil || id == 0 {
		return nil, nil
	}
	query := s.conn(ctx, tx).Clauses(clause.Locking{Strength: "UPDATE"}).Model(&models.Execution{}).Where("id = ?", id)
	return firstOrNil[models.Execution](query)
}

func (s *Store) UpdateExecutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	return s.conn(ctx, tx).Model(&models.Execution{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) executionsQuery(ctx context.Context, params repository.ListExecutionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if params.StrategyID != nil && *params.StrategyID > 0 {
		query = query.Where("strategy_id = ?", *params.StrategyID)
	}
	if params.Executor != nil && strings.TrimSpace(*params.Executor) != "" {
		query = query.Where("executor = ?", strings.TrimSpace(*params.Executor))
	}
	if statuses := cleanStrings(params.Statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	return query
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.executionsQuery(ctx, params), params.OrderBy, params.Asc, "id")
	var items []models.Execution
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.executionsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListExecutionsDueForFinalize returns approved executions whose approval is
// at or before approvedBefore, oldest first.
func (s *Store) ListExecutionsDueForFinalize(ctx context.Context, approvedBefore int64, limit int) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&models.Execution{}).
		Where("status = ? AND approved_at > 0 AND approved_at <= ?", "approved", approvedBefore).
		Order("approved_at asc").
		Limit(normalizeLimit(limit, 50)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- disputes ---------------------------------------------------------------

func (s *Store) InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error {
	if s == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return firstOrNil[models.Dispute](s.db.WithContext(ctx).Model(&models.Dispute{}).Where("id = ?", id))
}

func (s *Store) GetDisputeByExecutionID(ctx context.Context, executionID uint64) (*models.Dispute, error) {
	if s == nil || s.db == nil || executionID == 0 {
		return nil, nil
	}
	return firstOrNil[models.Dispute](s.db.WithContext(ctx).Model(&models.Dispute{}).Where("execution_id = ?", executionID))
}

func (s *Store) LockDisputeByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.Dispute, error) {
	if s == nil || executionID == 0 {
		return nil, nil
	}
	query := s.conn(ctx, tx).Clauses(clause.Locking{Strength: "UPDATE"}).Model(&models.Dispute{}).Where("execution_id = ?", executionID)
	return firstOrNil[models.Dispute](query)
}

func (s *Store) UpdateDisputeTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	return s.conn(ctx, tx).Model(&models.Dispute{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) ListDisputes(ctx context.Context, params repository.ListDisputesParams) ([]models.Dispute, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Dispute{})
	if params.Resolution != nil && strings.TrimSpace(*params.Resolution) != "" {
		query = query.Where("resolution = ?", strings.TrimSpace(*params.Resolution))
	}
	if params.Challenger != nil && strings.TrimSpace(*params.Challenger) != "" {
		query = query.Where("challenger = ?", strings.TrimSpace(*params.Challenger))
	}
	var items []models.Dispute
	if err := query.Order("id desc").Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- reward streams ---------------------------------------------------------

func (s *Store) InsertRewardStreamTx(ctx context.Context, tx *gorm.DB, item *models.RewardStream) error {
	if s == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) GetRewardStreamByExecutionID(ctx context.Context, executionID uint64) (*models.RewardStream, error) {
	if s == nil || s.db == nil || executionID == 0 {
		return nil, nil
	}
	return firstOrNil[models.RewardStream](s.db.WithContext(ctx).Model(&models.RewardStream{}).Where("execution_id = ?", executionID))
}

func (s *Store) LockRewardStreamByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.RewardStream, error) {
	if s == nil || executionID == 0 {
		return nil, nil
	}
	query := s.conn(ctx, tx).Clauses(clause.Locking{Strength: "UPDATE"}).Model(&models.RewardStream{}).Where("execution_id = ?", executionID)
	return firstOrNil[models.RewardStream](query)
}

// ReserveWithdrawalTx refuses a second reservation and any reservation that
// would move withdrawn plus pending past total_amount, even if a caller
// skipped the lock.
func (s *Store) ReserveWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, amount decimal.Decimal, ledgerKey, requestKey string) error {
	if s == nil || id == 0 {
		return nil
	}
	res := s.conn(ctx, tx).Model(&models.RewardStream{}).
		Where("id = ? AND pending_key = '' AND total_amount >= withdrawn + ?", id, amount).
		Updates(map[string]any{
			"pending_amount":  amount,
			"pending_key":     ledgerKey,
			"pending_request": requestKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWithdrawnExceedsTotal
	}
	return nil
}

func (s *Store) SettleWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, withdrawn decimal.Decimal, requestKey string) error {
	if s == nil || id == 0 {
		return nil
	}
	res := s.conn(ctx, tx).Model(&models.RewardStream{}).
		Where("id = ? AND total_amount >= ?", id, withdrawn).
		Updates(map[string]any{
			"withdrawn":       withdrawn,
			"pending_amount":  decimal.Zero,
			"pending_key":     "",
			"pending_request": "",
			"last_request":    requestKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWithdrawnExceedsTotal
	}
	return nil
}

func (s *Store) ReleaseWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	if s == nil || id == 0 {
		return nil
	}
	return s.conn(ctx, tx).Model(&models.RewardStream{}).Where("id = ?", id).
		Updates(map[string]any{
			"pending_amount":  decimal.Zero,
			"pending_key":     "",
			"pending_request": "",
		}).Error
}

var ErrWithdrawnExceedsTotal = errors.New("withdrawal would exceed total_amount or one is already pending")

func (s *Store) ListRewardStreams(ctx context.Context, params repository.ListRewardStreamsParams) ([]models.RewardStream, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RewardStream{})
	if params.Executor != nil && strings.TrimSpace(*params.Executor) != "" {
		query = query.Where("executor = ?", strings.TrimSpace(*params.Executor))
	}
	var items []models.RewardStream
	if err := query.Order("id desc").Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- ledger journal ---------------------------------------------------------

func (s *Store) InsertLedgerEntry(ctx context.Context, item *models.LedgerEntry) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	item.DedupeKey = strings.TrimSpace(item.DedupeKey)
	if item.DedupeKey == "" {
		return false, errors.New("dedupe key required")
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetLedgerEntryByDedupeKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return nil, nil
	}
	return firstOrNil[models.LedgerEntry](s.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("dedupe_key = ?", key))
}

func (s *Store) ListLedgerEntries(ctx context.Context, params repository.ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Identity != nil && strings.TrimSpace(*params.Identity) != "" {
		query = query.Where("identity = ?", strings.TrimSpace(*params.Identity))
	}
	if params.KeyPrefix != nil && strings.TrimSpace(*params.KeyPrefix) != "" {
		query = query.Where("dedupe_key LIKE ?", strings.TrimSpace(*params.KeyPrefix)+"%")
	}
	var items []models.LedgerEntry
	if err := query.Order("id asc").Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- settings & audit -------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return nil, nil
	}
	return firstOrNil[models.SystemSetting](s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key))
}

func (s *Store) settingsQuery(ctx context.Context, params repository.ListSystemSettingsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.settingsQuery(ctx, params), params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.settingsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, item *models.AuditEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// --- helpers ----------------------------------------------------------------

var orderColumns = map[string]bool{
	"id": true, "created_at": true, "updated_at": true, "approved_at": true,
	"status": true, "key": true, "stake_amount": true, "confidence": true,
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" || !orderColumns[column] {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var _ repository.Repository = (*Store)(nil)
