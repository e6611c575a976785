package domain

// FailureKind explains why a candidate proof did not verify.
type FailureKind string

// Verification failure kinds. SessionFailure is infrastructure; the rest are
// genuine rejections of the candidate.
const (
	FailureNone             FailureKind = ""
	FailureBuild            FailureKind = "build_failure"
	FailureCountMismatch    FailureKind = "count_mismatch"
	FailurePositionMismatch FailureKind = "position_mismatch"
	FailureGoalMismatch     FailureKind = "goal_mismatch"
	FailureSession          FailureKind = "session_failure"
	FailureInvalidLocation  FailureKind = "invalid_location"
)

// VerifyResult is the outcome of checking one candidate proof.
type VerifyResult struct {
	OK     bool        `json:"ok"`
	Kind   FailureKind `json:"kind,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Infrastructure reports whether the failure came from tooling rather than the proof.
func (r VerifyResult) Infrastructure() bool {
	return r.Kind == FailureSession
}

// Verified is the successful result.
func Verified() VerifyResult {
	return VerifyResult{OK: true}
}

// Rejected builds a failed result.
func Rejected(kind FailureKind, reason string) VerifyResult {
	return VerifyResult{Kind: kind, Reason: reason}
}

// ProofResult records one attempt of a strategy on one sorry.
type ProofResult struct {
	Sorry    Sorry        `json:"sorry"`
	Strategy string       `json:"strategy"`
	Proof    *Proof       `json:"proof"`
	Result   VerifyResult `json:"result"`
}
