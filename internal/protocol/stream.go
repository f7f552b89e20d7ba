package protocol

import (
	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places kept for token amounts
// (seven, the stroop precision of the original settlement asset).
const AmountScale int32 = 7

// WithinScale reports whether amount carries no digits past AmountScale, so
// it survives a round trip through the numeric(30,7) columns unchanged.
func WithinScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(AmountScale))
}

// DefaultStreamSeconds is the vesting duration used when none is configured.
const DefaultStreamSeconds int64 = 300

// Schedule is a linear vesting schedule. Earned amounts are never stored;
// they are derived from the schedule and a query time on every read.
type Schedule struct {
	Total     decimal.Decimal
	StartTime int64
	EndTime   int64
	Withdrawn decimal.Decimal
}

// Accrual is the state of a schedule at one instant.
type Accrual struct {
	Now            int64           `json:"now"`
	Duration       int64           `json:"duration_seconds"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	Total          decimal.Decimal `json:"total_amount"`
	Earned         decimal.Decimal `json:"earned"`
	Withdrawn      decimal.Decimal `json:"withdrawn"`
	Available      decimal.Decimal `json:"available"`
	ProgressPct    float64         `json:"progress_pct"`
	Complete       bool            `json:"complete"`
}

// Validate checks the static invariants of a schedule.
func (s Schedule) Validate() error {
	if s.EndTime-s.StartTime <= 0 {
		return ErrInvalidSchedule.With("end_time must be after start_time")
	}
	if s.Total.IsNegative() {
		return ErrInvalidSchedule.With("negative total")
	}
	if s.Withdrawn.IsNegative() {
		return ErrInvariantViolation.With("negative withdrawn %s", s.Withdrawn.String())
	}
	if s.Withdrawn.GreaterThan(s.Total) {
		return ErrInvariantViolation.With("withdrawn %s exceeds total %s", s.Withdrawn.String(), s.Total.String())
	}
	return nil
}

// At evaluates the schedule at now.
func (s Schedule) At(now int64) (Accrual, error) {
	if err := s.Validate(); err != nil {
		return Accrual{}, err
	}
	duration := s.EndTime - s.StartTime
	elapsed := now - s.StartTime
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > duration {
		elapsed = duration
	}

	var earned decimal.Decimal
	switch elapsed {
	case duration:
		earned = s.Total
	case 0:
		earned = decimal.Zero
	default:
		earned = s.Total.
			Mul(decimal.NewFromInt(elapsed)).
			Div(decimal.NewFromInt(duration)).
			Truncate(AmountScale)
	}

	available := earned.Sub(s.Withdrawn)
	if available.IsNegative() {
		available = decimal.Zero
	}

	return Accrual{
		Now:            now,
		Duration:       duration,
		ElapsedSeconds: elapsed,
		Total:          s.Total,
		Earned:         earned,
		Withdrawn:      s.Withdrawn,
		Available:      available,
		ProgressPct:    float64(elapsed) * 100 / float64(duration),
		Complete:       elapsed == duration,
	}, nil
}

// CheckWithdraw validates amount against the schedule at now and returns the
// accrual it was checked against.
func (s Schedule) CheckWithdraw(amount decimal.Decimal, now int64) (Accrual, error) {
	acc, err := s.At(now)
	if err != nil {
		return Accrual{}, err
	}
	if !amount.IsPositive() {
		return acc, ErrInvalidAmount.With("amount must be positive")
	}
	if !WithinScale(amount) {
		return acc, ErrInvalidAmount.With("amount %s has more than %d decimal places", amount.String(), AmountScale)
	}
	if amount.GreaterThan(acc.Available) {
		return acc, ErrInvalidAmount.With("amount %s exceeds available %s", amount.String(), acc.Available.String())
	}
	return acc, nil
}

// NewSchedule starts a schedule of total at start lasting seconds.
func NewSchedule(total decimal.Decimal, start, seconds int64) (Schedule, error) {
	if seconds <= 0 {
		return Schedule{}, ErrInvalidSchedule.With("duration must be positive")
	}
	s := Schedule{
		Total:     total,
		StartTime: start,
		EndTime:   start + seconds,
		Withdrawn: decimal.Zero,
	}
	return s, s.Validate()
}
