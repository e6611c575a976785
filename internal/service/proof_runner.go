package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// ProofRunner asks a strategy for a proof of each sorry and verifies every
// proposal against a fresh checkout.
type ProofRunner struct {
	engine   *port.StrategyEngine
	verifier *Verifier
	vcs      port.VCSProvider
	builder  port.Builder
	locks    *CheckoutLocks
	dataDir  string
}

// NewProofRunner creates a runner. Checkouts are placed under dataDir.
func NewProofRunner(engine *port.StrategyEngine, verifier *Verifier, vcs port.VCSProvider, builder port.Builder, dataDir string) *ProofRunner {
	return &ProofRunner{engine: engine, verifier: verifier, vcs: vcs, builder: builder, locks: NewCheckoutLocks(), dataDir: dataDir}
}

// WithCheckoutLocks shares locks with other users of the same data
// directory.
func (r *ProofRunner) WithCheckoutLocks(locks *CheckoutLocks) *ProofRunner {
	r.locks = locks
	return r
}

// Run attempts every sorry with the named strategy. Sorries that share a
// checkout are built once.
func (r *ProofRunner) Run(ctx context.Context, strategy string, sorries []domain.Sorry) ([]domain.ProofResult, error) {
	if _, err := r.engine.Get(strategy); err != nil {
		return nil, fmt.Errorf("%s: %w", strategy, err)
	}

	built := make(map[string]string)
	results := make([]domain.ProofResult, 0, len(sorries))
	for _, x := range sorries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		unlock, err := r.locks.Lock(ctx, r.dataDir, x.Repo.Commit)
		if err != nil {
			return results, err
		}
		results = append(results, r.attempt(ctx, strategy, x, built))
		unlock()
	}
	return results, nil
}

// attempt proposes and verifies one proof. The caller holds the checkout
// lock of x.
func (r *ProofRunner) attempt(ctx context.Context, strategy string, x domain.Sorry, built map[string]string) domain.ProofResult {
	res := domain.ProofResult{Sorry: x, Strategy: strategy}

	dir, ok := built[x.Repo.Commit]
	if !ok {
		var err error
		dir, err = r.prepare(ctx, x.Repo)
		if err != nil {
			slog.Error("checkout failed", "repo", x.Repo.Remote, "commit", x.Repo.Commit, "error", err)
			res.Result = domain.Rejected(domain.FailureSession, err.Error())
			return res
		}
		built[x.Repo.Commit] = dir
	}

	proof, err := r.engine.Propose(ctx, strategy, port.ProofRequest{CheckoutDir: dir, Sorry: x})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("strategy failed", "strategy", strategy, "sorry", x.ID, "error", err)
	}
	if proof == nil {
		res.Result = domain.Rejected(domain.FailureNone, "no proof proposed")
		return res
	}
	res.Proof = proof
	res.Result = r.verifier.Verify(ctx, VerifyRequest{
		CheckoutDir: dir,
		Location:    x.Location,
		Proof:       proof.Text,
		LeanVersion: x.Repo.LeanVersion,
	})
	return res
}

func (r *ProofRunner) prepare(ctx context.Context, repo domain.RepoInfo) (string, error) {
	dir, err := r.vcs.Checkout(ctx, repo.Remote, repo.Branch, repo.Commit, r.dataDir)
	if err != nil {
		return "", err
	}
	if err := r.builder.Build(ctx, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// VerifySorry checks out and builds the commit of x, then verifies proof
// against it. The error reports a checkout or build failure.
func (r *ProofRunner) VerifySorry(ctx context.Context, x domain.Sorry, proof string) (domain.VerifyResult, error) {
	unlock, err := r.locks.Lock(ctx, r.dataDir, x.Repo.Commit)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	defer unlock()

	dir, err := r.prepare(ctx, x.Repo)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("prepare %s: %w", x.ID, err)
	}
	return r.verifier.Verify(ctx, VerifyRequest{
		CheckoutDir: dir,
		Location:    x.Location,
		Proof:       proof,
		LeanVersion: x.Repo.LeanVersion,
	}), nil
}
