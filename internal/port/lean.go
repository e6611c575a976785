package port

import (
	"context"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// Builder makes a checkout buildable and runs cheap single-file checks.
type Builder interface {
	// Build prepares and builds the whole project at dir.
	Build(ctx context.Context, dir string) error

	// CheckFile elaborates one file (relative to dir) and returns the
	// compiler diagnostic when it fails.
	CheckFile(ctx context.Context, dir, file string) (diagnostic string, err error)

	// LeanVersion reads the toolchain version pinned by the project.
	LeanVersion(dir string) (string, error)
}

// ProverSession is a live interactive prover bound to one checkout.
// A session that returned a protocol error or timed out is dead and every
// further call fails; callers must Close it and open a new one.
type ProverSession interface {
	// ReadFile elaborates file (relative to the checkout) and returns its obligations.
	ReadFile(ctx context.Context, file string) ([]domain.Obligation, error)

	// ApplyTactic runs one tactic against a proof state.
	ApplyTactic(ctx context.Context, proofState int, tactic string) (*domain.TacticResult, error)

	// GoalParentType returns the type of the goal's type at proofState ("Prop" for proofs).
	GoalParentType(ctx context.Context, proofState int) (string, error)

	// Close terminates the underlying process. It is safe to call more than once.
	Close() error
}

// SessionFactory opens prover sessions.
type SessionFactory interface {
	// Open starts a session in dir using the prover matching leanVersion.
	Open(ctx context.Context, dir, leanVersion string) (ProverSession, error)
}
