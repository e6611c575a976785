package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// DedupDocumentation describes the derived document.
const DedupDocumentation = "deduplicated list of sorries, for each unique goal string the most recent inclusion date is chosen"

// DedupDocument is the output of a deduplication query.
type DedupDocument struct {
	Documentation string         `json:"documentation"`
	Sorries       []domain.Sorry `json:"sorries"`
}

// Deduplicate keeps one sorry per goal text: the one included most
// recently. Groups appear in the order their goal was first seen.
func Deduplicate(sorries []domain.Sorry) []domain.Sorry {
	idx := make(map[string]int)
	out := make([]domain.Sorry, 0)
	for _, s := range sorries {
		i, ok := idx[s.DebugInfo.Goal]
		if !ok {
			idx[s.DebugInfo.Goal] = len(out)
			out = append(out, s)
			continue
		}
		if s.Metadata.InclusionDate.After(out[i].Metadata.InclusionDate) {
			out[i] = s
		}
	}
	return out
}

// SampleDiverse takes n sorries spread across repositories: each
// repository's sorries are ordered by blame date (newest first) and the
// repositories are interleaved round-robin in first-appearance order.
func SampleDiverse(sorries []domain.Sorry, n int) []domain.Sorry {
	if n <= 0 {
		return []domain.Sorry{}
	}
	var remotes []string
	groups := make(map[string][]domain.Sorry)
	for _, s := range sorries {
		r := s.Repo.Remote
		if _, ok := groups[r]; !ok {
			remotes = append(remotes, r)
		}
		groups[r] = append(groups[r], s)
	}
	for _, r := range remotes {
		g := groups[r]
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].Metadata.BlameDate.After(g[j].Metadata.BlameDate)
		})
	}

	out := make([]domain.Sorry, 0, min(n, len(sorries)))
	for round := 0; len(out) < n; round++ {
		took := false
		for _, r := range remotes {
			g := groups[r]
			if round >= len(g) {
				continue
			}
			took = true
			out = append(out, g[round])
			if len(out) == n {
				break
			}
		}
		if !took {
			break
		}
	}
	return out
}

// DedupService builds derived views of the database.
type DedupService struct {
	store port.SorryStore
}

// NewDedupService creates the service.
func NewDedupService(store port.SorryStore) *DedupService {
	return &DedupService{store: store}
}

// Query deduplicates the database and, when maxSorries > 0, samples it down.
func (s *DedupService) Query(ctx context.Context, maxSorries int) (*DedupDocument, error) {
	all, err := port.AllSorries(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("load sorries: %w", err)
	}
	sorries := Deduplicate(all)
	if maxSorries > 0 {
		sorries = SampleDiverse(sorries, maxSorries)
	}
	return &DedupDocument{Documentation: DedupDocumentation, Sorries: sorries}, nil
}
