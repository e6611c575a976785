package port

import (
	"context"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// SorryStore persists repositories and sorries. The model is single-writer:
// one crawl owns the store at a time.
type SorryStore interface {
	// ListRepos returns every tracked repository in insertion order.
	ListRepos(ctx context.Context) ([]domain.Repository, error)

	// GetRepo returns ErrRepoNotFound when url is not tracked.
	GetRepo(ctx context.Context, url string) (*domain.Repository, error)

	// PutRepo inserts or replaces a repository keyed by remote URL.
	PutRepo(ctx context.Context, repo domain.Repository) error

	// GetSorry returns ErrSorryNotFound when id is unknown.
	GetSorry(ctx context.Context, id string) (*domain.Sorry, error)

	// PutSorry adds s unless a sorry with the same ID exists. Sorries are
	// immutable, so a duplicate is a no-op and reports inserted=false.
	PutSorry(ctx context.Context, s domain.Sorry) (inserted bool, err error)

	// IterateSorries calls fn for every sorry in insertion order and stops at
	// the first error fn returns.
	IterateSorries(ctx context.Context, fn func(domain.Sorry) error) error

	// Flush makes all previous writes durable.
	Flush(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// AllSorries collects every sorry of s into a slice.
func AllSorries(ctx context.Context, s SorryStore) ([]domain.Sorry, error) {
	var out []domain.Sorry
	err := s.IterateSorries(ctx, func(sorry domain.Sorry) error {
		out = append(out, sorry)
		return nil
	})
	return out, err
}
