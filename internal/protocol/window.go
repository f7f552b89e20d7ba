package protocol

// DefaultWindowSeconds is the dispute window used when none is configured.
const DefaultWindowSeconds int64 = 60

// DisputeWindow decides, from timestamps alone, whether a creator may still
// challenge an approved execution. It holds no timer; every caller evaluates
// it against its own single read of the clock.
type DisputeWindow struct {
	Seconds int64
}

func NewDisputeWindow(seconds int64) DisputeWindow {
	if seconds <= 0 {
		seconds = DefaultWindowSeconds
	}
	return DisputeWindow{Seconds: seconds}
}

// Length is the window in seconds, falling back to the default.
func (w DisputeWindow) Length() int64 {
	if w.Seconds <= 0 {
		return DefaultWindowSeconds
	}
	return w.Seconds
}

// ClosesAt is the first instant at which a dispute is rejected.
func (w DisputeWindow) ClosesAt(approvedAt int64) int64 {
	return approvedAt + w.Length()
}

// IsOpen: status is approved, approval was recorded, and now is strictly
// before approvedAt + window.
func (w DisputeWindow) IsOpen(status Status, approvedAt, now int64) bool {
	return status == StatusApproved && approvedAt > 0 && now < w.ClosesAt(approvedAt)
}

// Expired is true once an approved execution may be finalized. It is the
// exact complement of IsOpen for approved executions.
func (w DisputeWindow) Expired(status Status, approvedAt, now int64) bool {
	return status == StatusApproved && approvedAt > 0 && now >= w.ClosesAt(approvedAt)
}

// RemainingSeconds returns max(0, approvedAt + window - now). It is zero for
// executions that were never approved.
func (w DisputeWindow) RemainingSeconds(approvedAt, now int64) int64 {
	if approvedAt <= 0 {
		return 0
	}
	left := w.ClosesAt(approvedAt) - now
	if left < 0 {
		return 0
	}
	return left
}

// WindowState is the read model handed to pollers and the watch feed.
type WindowState struct {
	Open             bool  `json:"open"`
	ApprovedAt       int64 `json:"approved_at"`
	ClosesAt         int64 `json:"closes_at"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	WindowSeconds    int64 `json:"window_seconds"`
}

func (w DisputeWindow) State(status Status, approvedAt, now int64) WindowState {
	st := WindowState{
		Open:             w.IsOpen(status, approvedAt, now),
		ApprovedAt:       approvedAt,
		RemainingSeconds: w.RemainingSeconds(approvedAt, now),
		WindowSeconds:    w.Length(),
	}
	if approvedAt > 0 {
		st.ClosesAt = w.ClosesAt(approvedAt)
	}
	if status != StatusApproved {
		st.RemainingSeconds = 0
	}
	return st
}
