package port

import (
	"context"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// VCSProvider abstracts the version control plumbing the crawler needs.
// Implementations never require a full checkout to answer remote queries.
type VCSProvider interface {
	// RemoteHeads lists every branch tip of the remote.
	RemoteHeads(ctx context.Context, url string) ([]domain.RemoteHead, error)

	// LeafCommits returns the tip commit of every branch with its commit date.
	LeafCommits(ctx context.Context, url string) ([]domain.LeafCommit, error)

	// Checkout makes commit sha of branch available under baseDir and returns its path.
	Checkout(ctx context.Context, url, branch, sha, baseDir string) (string, error)

	// Blame returns the provenance of one line (1-based) of file at HEAD.
	Blame(ctx context.Context, repoPath, file string, line int) (*domain.Blame, error)
}
