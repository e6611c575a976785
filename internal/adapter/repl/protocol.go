package repl

import (
	"strings"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// parentTypeTactic logs the type of the main goal's type. Proof obligations
// report "Prop"; data placeholders report a universe such as "Type".
const parentTypeTactic = `run_tac (do let parentType ← Lean.Meta.inferType (← Lean.Elab.Tactic.getMainTarget); Lean.logInfo m!"Goal parent type: {parentType}")`

const parentTypeMarker = "Goal parent type:"

// FileCommand asks the REPL to elaborate a whole file.
type FileCommand struct {
	Path       string `json:"path"`
	AllTactics bool   `json:"allTactics"`
}

// TacticCommand applies a tactic to a proof state.
type TacticCommand struct {
	Tactic     string `json:"tactic"`
	ProofState int    `json:"proofState"`
}

// Message is a diagnostic attached to a response.
type Message struct {
	Severity string      `json:"severity"`
	Pos      domain.Pos  `json:"pos"`
	EndPos   *domain.Pos `json:"endPos,omitempty"`
	Data     string      `json:"data"`
}

// Response is the union of every REPL reply shape.
type Response struct {
	Env        *int                `json:"env,omitempty"`
	Sorries    []domain.Obligation `json:"sorries,omitempty"`
	Messages   []Message           `json:"messages,omitempty"`
	ProofState *int                `json:"proofState,omitempty"`
	Goals      []string            `json:"goals,omitempty"`
	Error      string              `json:"error,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// failure returns the error text carried by the response, if any.
func (r *Response) failure() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// Errors returns the data of every error-severity message.
func (r *Response) Errors() []string {
	var out []string
	for _, m := range r.Messages {
		if m.Severity == "error" {
			out = append(out, m.Data)
		}
	}
	return out
}

// parentType extracts the parent type from the info message left by parentTypeTactic.
func (r *Response) parentType() (string, bool) {
	for _, m := range r.Messages {
		if m.Severity != "info" {
			continue
		}
		if _, after, ok := strings.Cut(m.Data, parentTypeMarker); ok {
			return strings.TrimSpace(after), true
		}
	}
	return "", false
}
