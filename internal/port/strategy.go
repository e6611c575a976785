package port

import (
	"context"
	"sort"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// ProofStrategy proposes a candidate replacement for a sorry (Strategy Pattern).
// Proposals are opaque text; the verifier decides whether they are valid.
type ProofStrategy interface {
	// Name returns the unique name of this strategy (e.g. "tactic", "rfl").
	Name() string

	// Description returns a human-readable description of the strategy.
	Description() string

	// Propose returns a candidate proof, or nil when the strategy has nothing to offer.
	Propose(ctx context.Context, req ProofRequest) (*domain.Proof, error)
}

// ProofRequest contains everything a strategy needs to attempt one sorry.
type ProofRequest struct {
	CheckoutDir string       `json:"checkout_dir"`
	Sorry       domain.Sorry `json:"sorry"`
}

// StrategyEngine holds the registered strategies.
type StrategyEngine struct {
	strategies map[string]ProofStrategy
}

// NewStrategyEngine creates a new engine with the given strategies.
func NewStrategyEngine(strategies ...ProofStrategy) *StrategyEngine {
	m := make(map[string]ProofStrategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return &StrategyEngine{strategies: m}
}

// Get returns the named strategy.
func (e *StrategyEngine) Get(name string) (ProofStrategy, error) {
	s, ok := e.strategies[name]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	return s, nil
}

// Propose runs the named strategy.
func (e *StrategyEngine) Propose(ctx context.Context, strategyName string, req ProofRequest) (*domain.Proof, error) {
	s, err := e.Get(strategyName)
	if err != nil {
		return nil, err
	}
	return s.Propose(ctx, req)
}

// AvailableStrategies returns the names of all registered strategies, sorted.
func (e *StrategyEngine) AvailableStrategies() []string {
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
