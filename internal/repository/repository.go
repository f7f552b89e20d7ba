package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stratflow/internal/models"
)

// Repository is the persistence surface of the settlement service. Methods
// ending in Tx run on the transaction handed to InTx; Lock* methods take a
// row lock that is held until that transaction ends. Lookups return nil, nil
// when the row does not exist.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	InsertStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error)
	ListStrategies(ctx context.Context, params ListStrategiesParams) ([]models.Strategy, error)
	CountStrategies(ctx context.Context, params ListStrategiesParams) (int64, error)
	SetStrategyActive(ctx context.Context, id uint64, active bool) error

	InsertExecutionTx(ctx context.Context, tx *gorm.DB, item *models.Execution) error
	GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error)
	GetExecutionBySubmissionKey(ctx context.Context, key string) (*models.Execution, error)
	LockExecutionTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Execution, error)
	UpdateExecutionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)
	CountExecutions(ctx context.Context, params ListExecutionsParams) (int64, error)
	ListExecutionsDueForFinalize(ctx context.Context, approvedBefore int64, limit int) ([]uint64, error)

	InsertDisputeTx(ctx context.Context, tx *gorm.DB, item *models.Dispute) error
	GetDisputeByID(ctx context.Context, id uint64) (*models.Dispute, error)
	GetDisputeByExecutionID(ctx context.Context, executionID uint64) (*models.Dispute, error)
	LockDisputeByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.Dispute, error)
	UpdateDisputeTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	ListDisputes(ctx context.Context, params ListDisputesParams) ([]models.Dispute, error)

	InsertRewardStreamTx(ctx context.Context, tx *gorm.DB, item *models.RewardStream) error
	GetRewardStreamByExecutionID(ctx context.Context, executionID uint64) (*models.RewardStream, error)
	LockRewardStreamByExecutionIDTx(ctx context.Context, tx *gorm.DB, executionID uint64) (*models.RewardStream, error)
	// ReserveWithdrawalTx records a pending payout; it fails when another is
	// pending or the reservation would pass total_amount.
	ReserveWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, amount decimal.Decimal, ledgerKey, requestKey string) error
	// SettleWithdrawalTx moves withdrawn to its new value and clears the
	// pending reservation.
	SettleWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64, withdrawn decimal.Decimal, requestKey string) error
	ReleaseWithdrawalTx(ctx context.Context, tx *gorm.DB, id uint64) error
	ListRewardStreams(ctx context.Context, params ListRewardStreamsParams) ([]models.RewardStream, error)

	// InsertLedgerEntry reports created=false when the dedupe key exists.
	InsertLedgerEntry(ctx context.Context, item *models.LedgerEntry) (bool, error)
	GetLedgerEntryByDedupeKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, params ListLedgerEntriesParams) ([]models.LedgerEntry, error)

	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)

	InsertAuditEvent(ctx context.Context, item *models.AuditEvent) error
}

type ListStrategiesParams struct {
	Limit   int
	Offset  int
	Creator *string
	Active  *bool
	OrderBy string
	Asc     *bool
}

type ListExecutionsParams struct {
	Limit      int
	Offset     int
	StrategyID *uint64
	Executor   *string
	Statuses   []string
	OrderBy    string
	Asc        *bool
}

type ListDisputesParams struct {
	Limit      int
	Offset     int
	Resolution *string
	Challenger *string
}

type ListRewardStreamsParams struct {
	Limit    int
	Offset   int
	Executor *string
}

type ListLedgerEntriesParams struct {
	Limit     int
	Offset    int
	Kind      *string
	Identity  *string
	KeyPrefix *string
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
