package protocol

import "strings"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDisputed  Status = "disputed"
	StatusCleared   Status = "cleared"
	StatusSlashed   Status = "slashed"
	StatusFinalized Status = "finalized"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusDisputed, StatusFinalized},
	StatusDisputed: {StatusCleared, StatusSlashed},
}

// ParseStatus normalizes raw into a known Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDisputed,
		StatusCleared, StatusSlashed, StatusFinalized:
		return s, true
	}
	return "", false
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCleared, StatusSlashed, StatusFinalized:
		return true
	}
	return false
}

// Streams reports whether reaching s creates a reward stream.
func (s Status) Streams() bool {
	return s == StatusCleared || s == StatusFinalized
}

// Transition returns ErrInvalidState unless from → to is allowed.
func Transition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return ErrInvalidState.With("%s -> %s", from, to)
}

// ReasonCode enumerates why a creator challenges an execution.
type ReasonCode int

const (
	ReasonFakeProof   ReasonCode = 1
	ReasonIncomplete  ReasonCode = 2
	ReasonPlagiarized ReasonCode = 3
)

func (r ReasonCode) Valid() bool {
	return r >= ReasonFakeProof && r <= ReasonPlagiarized
}

func (r ReasonCode) String() string {
	switch r {
	case ReasonFakeProof:
		return "fake_proof"
	case ReasonIncomplete:
		return "incomplete"
	case ReasonPlagiarized:
		return "plagiarized"
	default:
		return "unknown"
	}
}

// Describe renders the code and the challenger's free text for the
// reviewer.
func (r ReasonCode) Describe(details string) string {
	details = strings.TrimSpace(details)
	if details == "" {
		return r.String()
	}
	return r.String() + ": " + details
}

// ParseReasonCode accepts either the numeric code or its name.
func ParseReasonCode(raw string) (ReasonCode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "fake_proof", "fake-proof":
		return ReasonFakeProof, true
	case "2", "incomplete":
		return ReasonIncomplete, true
	case "3", "plagiarized":
		return ReasonPlagiarized, true
	}
	return 0, false
}

// Resolution is the outcome of a dispute.
type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionUpheld    Resolution = "upheld"
	ResolutionDismissed Resolution = "dismissed"
)
