package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"stratflow/internal/protocol"
	"stratflow/internal/repository"
)

// SettlementWorker drives executions that nobody is actively pushing:
// pending ones get verified, disputed ones get reviewed and approved ones
// whose window lapsed get finalized. Each pass is safe to repeat since every
// transition re-checks state under the row lock.
type SettlementWorker struct {
	Service *SettlementService
	Flags   *SystemSettingsService
	Logger  *zap.Logger
	Batch   int
}

const sweeperCaller = "system:sweeper"

// RunOnce performs one pass of every enabled job and returns the first
// non-benign error.
func (w *SettlementWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.Service == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.enabled(ctx, FeatureAutoVerify) {
		_, err := w.VerifyPending(ctx)
		keep(err)
	}
	if w.enabled(ctx, FeatureAutoReview) {
		_, err := w.ReviewDisputed(ctx)
		keep(err)
	}
	if w.enabled(ctx, FeatureAutoFinalize) {
		_, err := w.FinalizeDue(ctx)
		keep(err)
	}
	return firstErr
}

func (w *SettlementWorker) enabled(ctx context.Context, key string) bool {
	if w.Flags == nil {
		return DefaultFeatureSwitches()[key]
	}
	return w.Flags.IsEnabled(ctx, key, DefaultFeatureSwitches()[key])
}

func (w *SettlementWorker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *SettlementWorker) batch() int {
	if w.Batch <= 0 || w.Batch > 500 {
		return 50
	}
	return w.Batch
}

// FinalizeDue settles every approved execution whose window closed. Losing a
// race to a dispute or another finalizer is not an error.
func (w *SettlementWorker) FinalizeDue(ctx context.Context) (int, error) {
	svc := w.Service
	if err := svc.ready(); err != nil {
		return 0, err
	}
	// approved_at <= now - W is exactly the expired half of the window.
	cutoff := svc.now() - svc.windowSeconds()
	ids, err := svc.Repo.ListExecutionsDueForFinalize(ctx, cutoff, w.batch())
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if _, _, err := svc.Finalize(ctx, id, sweeperCaller); err != nil {
			if benign(err) {
				continue
			}
			w.logger().Warn("auto finalize failed", zap.Uint64("execution_id", id), zap.Error(err))
			if protocol.IsRetryable(err) {
				continue
			}
			return done, err
		}
		done++
	}
	if done > 0 {
		w.logger().Info("auto finalize pass", zap.Int("finalized", done), zap.Int("due", len(ids)))
	}
	return done, nil
}

func (w *SettlementWorker) VerifyPending(ctx context.Context) (int, error) {
	return w.drive(ctx, protocol.StatusPending, "auto verify", func(id uint64) error {
		_, _, err := w.Service.Verify(ctx, id)
		return err
	})
}

func (w *SettlementWorker) ReviewDisputed(ctx context.Context) (int, error) {
	return w.drive(ctx, protocol.StatusDisputed, "auto review", func(id uint64) error {
		_, _, err := w.Service.ReviewDispute(ctx, id)
		return err
	})
}

// drive applies fn to the oldest executions in status. Collaborator outages
// leave the execution where it was for the next pass.
func (w *SettlementWorker) drive(ctx context.Context, status protocol.Status, job string, fn func(id uint64) error) (int, error) {
	svc := w.Service
	if err := svc.ready(); err != nil {
		return 0, err
	}
	asc := true
	items, err := svc.Repo.ListExecutions(ctx, repository.ListExecutionsParams{
		Limit:    w.batch(),
		Statuses: []string{string(status)},
		OrderBy:  "id",
		Asc:      &asc,
	})
	if err != nil {
		return 0, err
	}
	done := 0
	for _, item := range items {
		if err := fn(item.ID); err != nil {
			if benign(err) {
				continue
			}
			if protocol.IsRetryable(err) {
				w.logger().Warn(job+" deferred", zap.Uint64("execution_id", item.ID), zap.Error(err))
				return done, nil
			}
			w.logger().Error(job+" failed", zap.Uint64("execution_id", item.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func benign(err error) bool {
	return errors.Is(err, protocol.ErrInvalidState) || errors.Is(err, protocol.ErrWindowOpen)
}
