package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// DefaultTactics are tried in order by TacticStrategy.
var DefaultTactics = []string{"rfl", "trivial", "decide", "simp", "norm_num", "omega", "linarith", "aesop"}

// TacticStrategy elaborates the file in a prover session and tries each
// tactic on the sorry's proof state. The first tactic that closes the goal
// is proposed.
type TacticStrategy struct {
	sessions port.SessionFactory
	tactics  []string
}

func NewTacticStrategy(sessions port.SessionFactory, tactics []string) *TacticStrategy {
	if len(tactics) == 0 {
		tactics = DefaultTactics
	}
	return &TacticStrategy{sessions: sessions, tactics: tactics}
}

func (s *TacticStrategy) Name() string { return "tactic" }
func (s *TacticStrategy) Description() string {
	return "Try a list of closing tactics through the prover"
}

func (s *TacticStrategy) Propose(ctx context.Context, req port.ProofRequest) (*domain.Proof, error) {
	x := req.Sorry
	session, err := s.sessions.Open(ctx, req.CheckoutDir, x.Repo.LeanVersion)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	obligations, err := session.ReadFile(ctx, x.Location.File)
	if err != nil {
		return nil, err
	}
	state := -1
	for _, ob := range obligations {
		if ob.Start.Line == x.Location.StartLine && ob.Start.Column == x.Location.StartColumn {
			state = ob.ProofState
			break
		}
	}
	if state < 0 {
		return nil, fmt.Errorf("no sorry at %s:%d:%d", x.Location.File, x.Location.StartLine, x.Location.StartColumn)
	}

	for _, tactic := range s.tactics {
		res, err := session.ApplyTactic(ctx, state, tactic)
		if err != nil {
			return nil, err
		}
		if res.Closed() {
			slog.Info("tactic closed goal", "sorry", x.ID, "tactic", tactic)
			return &domain.Proof{Text: tactic}, nil
		}
	}
	return nil, nil
}
