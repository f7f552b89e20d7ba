package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stratflow/internal/ledger"
	"stratflow/internal/models"
	"stratflow/internal/protocol"
	"stratflow/internal/repository"
)

// VerificationGate produces a verdict for a pending execution. It must not
// touch execution state.
type VerificationGate interface {
	Verify(ctx context.Context, executionID uint64, rules []string, proof protocol.Proof) (protocol.Verdict, error)
}

// DisputeResolver runs the secondary review of a raised dispute.
type DisputeResolver interface {
	Resolve(ctx context.Context, executionID, disputeID uint64, rules []string, proof protocol.Proof, reason string) (protocol.Review, error)
}

// SettlementService owns the execution lifecycle. Every transition reads the
// clock once and runs in a single transaction holding the execution (or
// stream) row lock. Collaborator calls that may be slow happen before the
// transaction starts.
type SettlementService struct {
	Repo     repository.Repository
	Ledger   ledger.Ledger
	Gate     VerificationGate
	Resolver DisputeResolver
	Logger   *zap.Logger

	Window        protocol.DisputeWindow
	StreamSeconds int64
	MinConfidence float64
	TolerancePct  float64

	Now func() time.Time
}

func (s *SettlementService) now() int64 {
	if s.Now != nil {
		return s.Now().Unix()
	}
	return time.Now().Unix()
}

func (s *SettlementService) windowSeconds() int64 {
	return s.Window.Length()
}

func (s *SettlementService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *SettlementService) streamSeconds() int64 {
	if s.StreamSeconds <= 0 {
		return protocol.DefaultStreamSeconds
	}
	return s.StreamSeconds
}

// report logs invariant violations loudly; they indicate a bug.
func (s *SettlementService) report(op string, id uint64, err error) error {
	if err != nil && protocol.KindOf(err) == protocol.KindInvariant {
		s.logger().Error("settlement invariant violated", zap.String("op", op), zap.Uint64("execution_id", id), zap.Error(err))
	}
	return err
}

func (s *SettlementService) ready() error {
	if s == nil || s.Repo == nil {
		return protocol.ErrInvariantViolation.With("settlement service not configured")
	}
	return nil
}

func execKey(id uint64, op string) string {
	return fmt.Sprintf("exec:%d:%s", id, op)
}

// --- strategies -------------------------------------------------------------

type StrategyInput struct {
	Creator            string
	Title              string
	Rules              []string
	StakeAmount        decimal.Decimal
	ProfitSharePercent int
}

// CreateStrategy publishes a strategy. Its stake is frozen from here on.
func (s *SettlementService) CreateStrategy(ctx context.Context, in StrategyInput) (*models.Strategy, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	creator := strings.TrimSpace(in.Creator)
	if creator == "" {
		return nil, protocol.ErrInvalidIdentity
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, protocol.ErrInvalidStrategy.With("title is required")
	}
	rules := cleanRules(in.Rules)
	if len(rules) == 0 {
		return nil, protocol.ErrInvalidStrategy.With("at least one rule is required")
	}
	if !in.StakeAmount.IsPositive() {
		return nil, protocol.ErrInvalidAmount.With("stake must be positive")
	}
	if !protocol.WithinScale(in.StakeAmount) {
		return nil, protocol.ErrInvalidAmount.With("stake has more than %d decimal places", protocol.AmountScale)
	}
	if !protocol.ValidSharePercent(in.ProfitSharePercent) {
		return nil, protocol.ErrInvalidStrategy.With("profit share %d outside 1..100", in.ProfitSharePercent)
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	item := &models.Strategy{
		Creator:            creator,
		Title:              title,
		Rules:              datatypes.JSON(raw),
		StakeAmount:        in.StakeAmount.Truncate(protocol.AmountScale),
		ProfitSharePercent: in.ProfitSharePercent,
		Active:             true,
	}
	if err := s.Repo.InsertStrategy(ctx, item); err != nil {
		return nil, err
	}
	s.logger().Info("strategy published",
		zap.Uint64("strategy_id", item.ID),
		zap.String("creator", creator),
		zap.String("stake", item.StakeAmount.String()),
		zap.Int("profit_share_pct", item.ProfitSharePercent),
	)
	return item, nil
}

// SetStrategyActive flips the only mutable strategy field. Creator only.
func (s *SettlementService) SetStrategyActive(ctx context.Context, id uint64, requester string, active bool) (*models.Strategy, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	strat, err := s.Repo.GetStrategyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, protocol.ErrStrategyNotFound
	}
	if strings.TrimSpace(requester) != strat.Creator {
		return nil, protocol.ErrNotCreator
	}
	if err := s.Repo.SetStrategyActive(ctx, id, active); err != nil {
		return nil, err
	}
	strat.Active = active
	return strat, nil
}

func (s *SettlementService) GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	strat, err := s.Repo.GetStrategyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, protocol.ErrStrategyNotFound
	}
	return strat, nil
}

// StrategyRules decodes the stored rule list.
func StrategyRules(strat *models.Strategy) []string {
	if strat == nil || len(strat.Rules) == 0 {
		return nil
	}
	var rules []string
	if err := json.Unmarshal(strat.Rules, &rules); err != nil {
		return nil
	}
	return rules
}

func cleanRules(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// --- submit -----------------------------------------------------------------

type SubmitInput struct {
	StrategyID     uint64
	Executor       string
	Proof          protocol.Proof
	IdempotencyKey string
}

// Submit locks the strategy's stake with the ledger and records a pending
// execution. Repeating a submission with the same idempotency key returns
// the execution created the first time.
func (s *SettlementService) Submit(ctx context.Context, in SubmitInput) (*models.Execution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	executor := strings.TrimSpace(in.Executor)
	if executor == "" {
		return nil, protocol.ErrInvalidIdentity
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if existing, err := s.Repo.GetExecutionBySubmissionKey(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replaySubmission(existing, in.StrategyID, executor)
	}

	strat, err := s.Repo.GetStrategyByID(ctx, in.StrategyID)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, protocol.ErrStrategyNotFound
	}
	if !strat.Active {
		return nil, protocol.ErrStrategyInactive
	}
	if err := in.Proof.Validate(); err != nil {
		return nil, err
	}
	proofRaw, err := json.Marshal(in.Proof)
	if err != nil {
		return nil, protocol.ErrInvalidEvidence.Wrap(err)
	}
	if s.Ledger == nil {
		return nil, protocol.ErrLedgerUnavailable.With("ledger not configured")
	}

	lockKey := "submit:" + key
	txRef, err := s.Ledger.LockStake(ctx, lockKey, executor, strat.StakeAmount)
	if err != nil {
		return nil, err
	}

	item := &models.Execution{
		StrategyID:    strat.ID,
		Executor:      executor,
		SubmissionKey: key,
		StakeTxRef:    txRef,
		StakeAmount:   strat.StakeAmount,
		ClaimedPnL:    in.Proof.PnL.Truncate(protocol.AmountScale),
		Proof:         datatypes.JSON(proofRaw),
		ProofHash:     in.Proof.Hash(),
		Status:        string(protocol.StatusPending),
	}
	insertErr := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.InsertExecutionTx(ctx, tx, item)
	})
	if insertErr != nil {
		// A concurrent submit with the same key may have won the insert.
		if existing, err := s.Repo.GetExecutionBySubmissionKey(ctx, key); err == nil && existing != nil {
			return s.replaySubmission(existing, in.StrategyID, executor)
		}
		if _, err := s.Ledger.Refund(ctx, lockKey+":compensate", executor, strat.StakeAmount); err != nil {
			s.logger().Error("stake compensation failed",
				zap.String("submission_key", key),
				zap.String("stake_tx_ref", txRef),
				zap.Error(err),
			)
		}
		return nil, insertErr
	}

	s.logger().Info("execution submitted",
		zap.Uint64("execution_id", item.ID),
		zap.Uint64("strategy_id", strat.ID),
		zap.String("executor", executor),
		zap.String("stake_tx_ref", txRef),
	)
	return item, nil
}

func (s *SettlementService) replaySubmission(existing *models.Execution, strategyID uint64, executor string) (*models.Execution, error) {
	if existing.StrategyID != strategyID || existing.Executor != executor {
		return nil, protocol.ErrIdempotencyConflict
	}
	return existing, nil
}

// --- verification -----------------------------------------------------------

// Verify asks the gate for a verdict with no lock held, then applies it.
func (s *SettlementService) Verify(ctx context.Context, id uint64) (*models.Execution, protocol.Verdict, error) {
	if err := s.ready(); err != nil {
		return nil, protocol.Verdict{}, err
	}
	exec, strat, proof, err := s.loadForReview(ctx, id, protocol.StatusPending)
	if err != nil {
		return nil, protocol.Verdict{}, err
	}
	if s.Gate == nil {
		return nil, protocol.Verdict{}, protocol.ErrVerificationUnavailable.With("verifier not configured")
	}
	verdict, err := s.Gate.Verify(ctx, exec.ID, StrategyRules(strat), proof)
	if err != nil {
		return nil, protocol.Verdict{}, err
	}
	updated, err := s.ApplyVerification(ctx, exec.ID, verdict)
	if err != nil {
		return nil, verdict, err
	}
	return updated, verdict, nil
}

// ApplyVerification moves a pending execution to approved or rejected.
// Rejection refunds the stake.
func (s *SettlementService) ApplyVerification(ctx context.Context, id uint64, verdict protocol.Verdict) (*models.Execution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, protocol.ErrInvalidVerdict.With("confidence %v outside [0,1]", verdict.Confidence)
	}
	now := s.now()
	target := protocol.StatusRejected
	if verdict.Approved {
		target = protocol.StatusApproved
	}

	var out *models.Execution
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		exec, err := s.Repo.LockExecutionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if exec == nil {
			return protocol.ErrExecutionNotFound
		}
		if err := protocol.Transition(protocol.Status(exec.Status), target); err != nil {
			return err
		}
		if target == protocol.StatusRejected {
			if err := s.requireLedger(); err != nil {
				return err
			}
			if _, err := s.Ledger.Refund(ctx, execKey(exec.ID, "refund"), exec.Executor, exec.StakeAmount); err != nil {
				return err
			}
		}
		flags, _ := json.Marshal(verdict.Flags)
		updates := map[string]any{
			"status":         string(target),
			"confidence":     protocol.ConfidencePercent(verdict.Confidence),
			"verdict_reason": verdict.Reason,
			"verdict_flags":  datatypes.JSON(flags),
		}
		if target == protocol.StatusApproved {
			updates["approved_at"] = now
			exec.ApprovedAt = now
		}
		if err := s.Repo.UpdateExecutionTx(ctx, tx, exec.ID, updates); err != nil {
			return err
		}
		exec.Status = string(target)
		exec.Confidence = protocol.ConfidencePercent(verdict.Confidence)
		exec.VerdictReason = verdict.Reason
		exec.VerdictFlags = datatypes.JSON(flags)
		out = exec
		return nil
	})
	if err != nil {
		return nil, s.report("apply_verification", id, err)
	}
	s.logger().Info("verification applied",
		zap.Uint64("execution_id", id),
		zap.String("status", out.Status),
		zap.Int("confidence", out.Confidence),
		zap.Int64("approved_at", out.ApprovedAt),
	)
	return out, nil
}

// loadForReview reads an execution without locking and checks it is in the
// state the collaborator call is meant for.
func (s *SettlementService) loadForReview(ctx context.Context, id uint64, want protocol.Status) (*models.Execution, *models.Strategy, protocol.Proof, error) {
	exec, err := s.Repo.GetExecutionByID(ctx, id)
	if err != nil {
		return nil, nil, protocol.Proof{}, err
	}
	if exec == nil {
		return nil, nil, protocol.Proof{}, protocol.ErrExecutionNotFound
	}
	if protocol.Status(exec.Status) != want {
		return nil, nil, protocol.Proof{}, protocol.ErrInvalidState.With("execution is %s, want %s", exec.Status, want)
	}
	strat, err := s.Repo.GetStrategyByID(ctx, exec.StrategyID)
	if err != nil {
		return nil, nil, protocol.Proof{}, err
	}
	if strat == nil {
		return nil, nil, protocol.Proof{}, protocol.ErrStrategyNotFound
	}
	var proof protocol.Proof
	if err := json.Unmarshal(exec.Proof, &proof); err != nil {
		return nil, nil, protocol.Proof{}, protocol.ErrInvariantViolation.Wrap(fmt.Errorf("decode stored proof: %w", err))
	}
	return exec, strat, proof, nil
}

func (s *SettlementService) requireLedger() error {
	if s.Ledger == nil {
		return protocol.ErrLedgerUnavailable.With("ledger not configured")
	}
	return nil
}

// --- disputes ---------------------------------------------------------------

type DisputeInput struct {
	ExecutionID uint64
	ReasonCode  protocol.ReasonCode
	Details     string
	Requester   string
}

// RaiseDispute lets the strategy creator challenge an approved execution
// while its window is open.
func (s *SettlementService) RaiseDispute(ctx context.Context, in DisputeInput) (*models.Dispute, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !in.ReasonCode.Valid() {
		return nil, protocol.ErrInvalidReason.With("code %d", in.ReasonCode)
	}
	requester := strings.TrimSpace(in.Requester)
	now := s.now()

	var out *models.Dispute
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		exec, err := s.Repo.LockExecutionTx(ctx, tx, in.ExecutionID)
		if err != nil {
			return err
		}
		if exec == nil {
			return protocol.ErrExecutionNotFound
		}
		strat, err := s.Repo.GetStrategyByID(ctx, exec.StrategyID)
		if err != nil {
			return err
		}
		if strat == nil {
			return protocol.ErrStrategyNotFound
		}
		if requester == "" || requester != strat.Creator {
			return protocol.ErrNotWindowOwner
		}
		if err := protocol.Transition(protocol.Status(exec.Status), protocol.StatusDisputed); err != nil {
			return err
		}
		if !s.Window.IsOpen(protocol.Status(exec.Status), exec.ApprovedAt, now) {
			return protocol.ErrWindowClosed.With("closed at %d", s.Window.ClosesAt(exec.ApprovedAt))
		}
		item := &models.Dispute{
			ExecutionID: exec.ID,
			Challenger:  requester,
			ReasonCode:  int(in.ReasonCode),
			Details:     strings.TrimSpace(in.Details),
			Resolution:  string(protocol.ResolutionPending),
			RaisedAt:    now,
		}
		if err := s.Repo.InsertDisputeTx(ctx, tx, item); err != nil {
			return err
		}
		if err := s.Repo.UpdateExecutionTx(ctx, tx, exec.ID, map[string]any{"status": string(protocol.StatusDisputed)}); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, s.report("raise_dispute", in.ExecutionID, err)
	}
	s.logger().Info("dispute raised",
		zap.Uint64("execution_id", in.ExecutionID),
		zap.Uint64("dispute_id", out.ID),
		zap.String("reason", in.ReasonCode.String()),
	)
	return out, nil
}

// ReviewDispute runs the secondary review with no lock held and applies its
// decision.
func (s *SettlementService) ReviewDispute(ctx context.Context, id uint64) (*models.Execution, protocol.Review, error) {
	if err := s.ready(); err != nil {
		return nil, protocol.Review{}, err
	}
	exec, strat, proof, err := s.loadForReview(ctx, id, protocol.StatusDisputed)
	if err != nil {
		return nil, protocol.Review{}, err
	}
	dispute, err := s.Repo.GetDisputeByExecutionID(ctx, exec.ID)
	if err != nil {
		return nil, protocol.Review{}, err
	}
	if dispute == nil {
		return nil, protocol.Review{}, protocol.ErrDisputeNotFound
	}
	if s.Resolver == nil {
		return nil, protocol.Review{}, protocol.ErrVerificationUnavailable.With("dispute reviewer not configured")
	}
	reason := protocol.ReasonCode(dispute.ReasonCode).Describe(dispute.Details)
	review, err := s.Resolver.Resolve(ctx, exec.ID, dispute.ID, StrategyRules(strat), proof, reason)
	if err != nil {
		return nil, protocol.Review{}, err
	}
	updated, err := s.ResolveDispute(ctx, exec.ID, review, "system:reviewer")
	if err != nil {
		return nil, review, err
	}
	return updated, review, nil
}

// ResolveDispute settles a disputed execution. Upheld slashes the stake and
// creates no stream; dismissed clears it and starts the stream.
func (s *SettlementService) ResolveDispute(ctx context.Context, id uint64, review protocol.Review, resolvedBy string) (*models.Execution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := protocol.ValidateReview(review); err != nil {
		return nil, err
	}
	now := s.now()
	target := protocol.StatusCleared
	resolution := protocol.ResolutionDismissed
	if review.Upheld {
		target = protocol.StatusSlashed
		resolution = protocol.ResolutionUpheld
	}

	var out *models.Execution
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		exec, err := s.Repo.LockExecutionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if exec == nil {
			return protocol.ErrExecutionNotFound
		}
		if err := protocol.Transition(protocol.Status(exec.Status), target); err != nil {
			return err
		}
		dispute, err := s.Repo.LockDisputeByExecutionIDTx(ctx, tx, exec.ID)
		if err != nil {
			return err
		}
		if dispute == nil {
			return protocol.ErrInvariantViolation.With("disputed execution %d has no dispute", exec.ID)
		}
		if err := s.requireLedger(); err != nil {
			return err
		}

		verified := false
		if review.Upheld {
			if _, err := s.Ledger.Slash(ctx, execKey(exec.ID, "slash"), exec.Executor, exec.StakeAmount); err != nil {
				return err
			}
		} else {
			if _, err := s.openStream(ctx, tx, exec, now); err != nil {
				return err
			}
			verified = true
		}

		evidence, _ := json.Marshal(review.Evidence)
		resolvedAt := time.Unix(now, 0).UTC()
		if err := s.Repo.UpdateDisputeTx(ctx, tx, dispute.ID, map[string]any{
			"resolution":           string(resolution),
			"secondary_confidence": protocol.ConfidencePercent(review.Confidence),
			"resolution_reason":    review.Reason,
			"evidence":             datatypes.JSON(evidence),
			"resolved_by":          resolvedBy,
			"resolved_at":          resolvedAt,
		}); err != nil {
			return err
		}
		if err := s.Repo.UpdateExecutionTx(ctx, tx, exec.ID, map[string]any{
			"status":     string(target),
			"verified":   verified,
			"settled_by": resolvedBy,
		}); err != nil {
			return err
		}
		exec.Status = string(target)
		exec.Verified = verified
		exec.SettledBy = resolvedBy
		out = exec
		return nil
	})
	if err != nil {
		return nil, s.report("resolve_dispute", id, err)
	}
	s.logger().Info("dispute resolved",
		zap.Uint64("execution_id", id),
		zap.String("resolution", string(resolution)),
		zap.Float64("confidence", review.Confidence),
		zap.String("resolved_by", resolvedBy),
	)
	return out, nil
}

// --- finalize ---------------------------------------------------------------

// Finalize settles an approved execution whose window lapsed without a
// dispute. Any caller may trigger it.
func (s *SettlementService) Finalize(ctx context.Context, id uint64, caller string) (*models.Execution, *models.RewardStream, error) {
	if err := s.ready(); err != nil {
		return nil, nil, err
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	now := s.now()

	var (
		out    *models.Execution
		stream *models.RewardStream
	)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		exec, err := s.Repo.LockExecutionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if exec == nil {
			return protocol.ErrExecutionNotFound
		}
		if err := protocol.Transition(protocol.Status(exec.Status), protocol.StatusFinalized); err != nil {
			return err
		}
		if s.Window.IsOpen(protocol.Status(exec.Status), exec.ApprovedAt, now) {
			return protocol.ErrWindowOpen.With("%ds remaining", s.Window.RemainingSeconds(exec.ApprovedAt, now))
		}
		if err := s.requireLedger(); err != nil {
			return err
		}
		st, err := s.openStream(ctx, tx, exec, now)
		if err != nil {
			return err
		}
		if err := s.Repo.UpdateExecutionTx(ctx, tx, exec.ID, map[string]any{
			"status":     string(protocol.StatusFinalized),
			"verified":   true,
			"settled_by": caller,
		}); err != nil {
			return err
		}
		exec.Status = string(protocol.StatusFinalized)
		exec.Verified = true
		exec.SettledBy = caller
		out = exec
		stream = st
		return nil
	})
	if err != nil {
		return nil, nil, s.report("finalize", id, err)
	}
	s.logger().Info("execution finalized",
		zap.Uint64("execution_id", id),
		zap.String("caller", caller),
		zap.String("stream_total", stream.TotalAmount.String()),
	)
	return out, stream, nil
}

// openStream pays the creator's share and creates the reward stream. It runs
// inside the caller's transaction.
func (s *SettlementService) openStream(ctx context.Context, tx *gorm.DB, exec *models.Execution, now int64) (*models.RewardStream, error) {
	strat, err := s.Repo.GetStrategyByID(ctx, exec.StrategyID)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, protocol.ErrStrategyNotFound
	}
	split, err := protocol.ComputePayout(exec.StakeAmount, exec.ClaimedPnL, strat.ProfitSharePercent)
	if err != nil {
		return nil, protocol.ErrInvariantViolation.Wrap(err)
	}
	if split.CreatorShare.IsPositive() {
		if _, err := s.Ledger.Payout(ctx, execKey(exec.ID, "creator_share"), strat.Creator, split.CreatorShare); err != nil {
			return nil, err
		}
	}
	schedule, err := protocol.NewSchedule(split.StreamTotal, now, s.streamSeconds())
	if err != nil {
		return nil, protocol.ErrInvariantViolation.Wrap(err)
	}
	stream := &models.RewardStream{
		ExecutionID:  exec.ID,
		Executor:     exec.Executor,
		TotalAmount:  schedule.Total,
		StakeRefund:  split.StakeRefund,
		TraderProfit: split.TraderProfit,
		CreatorShare: split.CreatorShare,
		Withdrawn:    decimal.Zero,
		StartTime:    schedule.StartTime,
		EndTime:      schedule.EndTime,
	}
	if err := s.Repo.InsertRewardStreamTx(ctx, tx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// --- withdraw ---------------------------------------------------------------

type WithdrawInput struct {
	ExecutionID uint64
	Amount      decimal.Decimal
	Requester   string
	// Key is an optional client retry key. Repeating the key of the pending
	// or last settled withdrawal completes or returns that withdrawal
	// instead of paying again.
	Key string
}

// reservedPayout is a withdrawal recorded on the stream before the ledger
// is called, so a crash or failed commit after the payout can be replayed
// under the same dedupe key.
type reservedPayout struct {
	ledgerKey string
	executor  string
	amount    decimal.Decimal
}

// Withdraw pays out vested funds in three steps: reserve under the stream
// row lock, pay through the ledger, settle under the lock. A reservation left
// behind by a failure is replayed by the next withdrawal before its own
// amount is checked.
func (s *SettlementService) Withdraw(ctx context.Context, in WithdrawInput) (*models.RewardStream, protocol.Accrual, error) {
	if err := s.ready(); err != nil {
		return nil, protocol.Accrual{}, err
	}
	if !in.Amount.IsPositive() {
		return nil, protocol.Accrual{}, protocol.ErrInvalidAmount.With("amount must be positive")
	}
	if err := s.requireLedger(); err != nil {
		return nil, protocol.Accrual{}, err
	}
	requester := strings.TrimSpace(in.Requester)
	requestKey := strings.TrimSpace(in.Key)
	now := s.now()

	var (
		payout  reservedPayout
		settled *models.RewardStream
	)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		stream, err := s.Repo.LockRewardStreamByExecutionIDTx(ctx, tx, in.ExecutionID)
		if err != nil {
			return err
		}
		if stream == nil {
			return protocol.ErrStreamNotFound
		}
		if requester == "" || requester != stream.Executor {
			return protocol.ErrNotExecutor
		}
		if requestKey != "" && requestKey == stream.LastRequest {
			settled = stream
			return nil
		}
		if stream.PendingKey != "" {
			if requestKey != "" && requestKey == stream.PendingRequest {
				if !in.Amount.Equal(stream.PendingAmount) {
					return protocol.ErrIdempotencyConflict.With("withdrawal key %s is pending for %s", requestKey, stream.PendingAmount.String())
				}
				payout = reservedPayout{ledgerKey: stream.PendingKey, executor: stream.Executor, amount: stream.PendingAmount}
				return nil
			}
			if err := s.replayPendingTx(ctx, tx, stream); err != nil {
				return err
			}
		}
		if _, err := scheduleOf(stream).CheckWithdraw(in.Amount, now); err != nil {
			return err
		}
		ledgerKey := execKey(in.ExecutionID, "withdraw:"+stream.Withdrawn.String())
		if err := s.Repo.ReserveWithdrawalTx(ctx, tx, stream.ID, in.Amount, ledgerKey, requestKey); err != nil {
			return err
		}
		payout = reservedPayout{ledgerKey: ledgerKey, executor: stream.Executor, amount: in.Amount}
		return nil
	})
	if err != nil {
		return nil, protocol.Accrual{}, s.report("withdraw", in.ExecutionID, err)
	}
	if settled != nil {
		acc, err := scheduleOf(settled).At(now)
		if err != nil {
			return nil, protocol.Accrual{}, err
		}
		return settled, acc, nil
	}

	if _, err := s.Ledger.Payout(ctx, payout.ledgerKey, payout.executor, payout.amount); err != nil {
		if !protocol.IsRetryable(err) {
			s.releaseReservation(ctx, in.ExecutionID, payout.ledgerKey)
		}
		return nil, protocol.Accrual{}, s.report("withdraw", in.ExecutionID, err)
	}

	var (
		out *models.RewardStream
		acc protocol.Accrual
	)
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		stream, err := s.Repo.LockRewardStreamByExecutionIDTx(ctx, tx, in.ExecutionID)
		if err != nil {
			return err
		}
		if stream == nil {
			return protocol.ErrStreamNotFound
		}
		// A later withdrawal may already have replayed and settled it.
		if stream.PendingKey == payout.ledgerKey {
			if err := s.settlePendingTx(ctx, tx, stream); err != nil {
				return err
			}
		}
		acc, err = scheduleOf(stream).At(now)
		if err != nil {
			return err
		}
		out = stream
		return nil
	})
	if err != nil {
		return nil, protocol.Accrual{}, s.report("withdraw", in.ExecutionID, err)
	}
	s.logger().Info("stream withdrawal",
		zap.Uint64("execution_id", in.ExecutionID),
		zap.String("amount", payout.amount.String()),
		zap.String("key", payout.ledgerKey),
		zap.String("withdrawn", out.Withdrawn.String()),
		zap.String("total", out.TotalAmount.String()),
	)
	return out, acc, nil
}

// replayPendingTx completes the stream's pending payout under its original
// dedupe key. A ledger refusal releases the reservation; an outage leaves it
// for the next attempt.
func (s *SettlementService) replayPendingTx(ctx context.Context, tx *gorm.DB, stream *models.RewardStream) error {
	if _, err := s.Ledger.Payout(ctx, stream.PendingKey, stream.Executor, stream.PendingAmount); err != nil {
		if protocol.IsRetryable(err) {
			return err
		}
		s.logger().Warn("pending withdrawal refused by ledger, releasing",
			zap.Uint64("execution_id", stream.ExecutionID),
			zap.String("key", stream.PendingKey),
			zap.Error(err),
		)
		if err := s.Repo.ReleaseWithdrawalTx(ctx, tx, stream.ID); err != nil {
			return err
		}
		stream.PendingAmount = decimal.Zero
		stream.PendingKey = ""
		stream.PendingRequest = ""
		return nil
	}
	s.logger().Info("pending withdrawal replayed",
		zap.Uint64("execution_id", stream.ExecutionID),
		zap.String("key", stream.PendingKey),
		zap.String("amount", stream.PendingAmount.String()),
	)
	return s.settlePendingTx(ctx, tx, stream)
}

func (s *SettlementService) settlePendingTx(ctx context.Context, tx *gorm.DB, stream *models.RewardStream) error {
	withdrawn := stream.Withdrawn.Add(stream.PendingAmount)
	if withdrawn.GreaterThan(stream.TotalAmount) {
		return protocol.ErrInvariantViolation.With("withdrawn %s would exceed total %s", withdrawn.String(), stream.TotalAmount.String())
	}
	if err := s.Repo.SettleWithdrawalTx(ctx, tx, stream.ID, withdrawn, stream.PendingRequest); err != nil {
		return err
	}
	stream.LastRequest = stream.PendingRequest
	stream.Withdrawn = withdrawn
	stream.PendingAmount = decimal.Zero
	stream.PendingKey = ""
	stream.PendingRequest = ""
	return nil
}

func (s *SettlementService) releaseReservation(ctx context.Context, executionID uint64, ledgerKey string) {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		stream, err := s.Repo.LockRewardStreamByExecutionIDTx(ctx, tx, executionID)
		if err != nil || stream == nil || stream.PendingKey != ledgerKey {
			return err
		}
		return s.Repo.ReleaseWithdrawalTx(ctx, tx, stream.ID)
	})
	if err != nil {
		s.logger().Warn("release withdrawal reservation failed", zap.Uint64("execution_id", executionID), zap.String("key", ledgerKey), zap.Error(err))
	}
}

// scheduleOf counts a pending reservation as withdrawn.
func scheduleOf(stream *models.RewardStream) protocol.Schedule {
	return protocol.Schedule{
		Total:     stream.TotalAmount,
		StartTime: stream.StartTime,
		EndTime:   stream.EndTime,
		Withdrawn: stream.Withdrawn.Add(stream.PendingAmount),
	}
}
