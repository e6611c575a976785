package strategy

import (
	"context"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// FixedStrategy always proposes the same tactic.
type FixedStrategy struct {
	tactic string
}

func NewFixedStrategy(tactic string) *FixedStrategy {
	return &FixedStrategy{tactic: tactic}
}

func (s *FixedStrategy) Name() string { return s.tactic }
func (s *FixedStrategy) Description() string {
	return "Replace the sorry with `" + s.tactic + "`"
}

func (s *FixedStrategy) Propose(_ context.Context, _ port.ProofRequest) (*domain.Proof, error) {
	return &domain.Proof{Text: s.tactic}, nil
}
