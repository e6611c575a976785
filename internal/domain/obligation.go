package domain

// Pos is a position as reported by the REPL.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Obligation is one placeholder found while elaborating a file.
type Obligation struct {
	ProofState int    `json:"proofState"`
	Start      Pos    `json:"pos"`
	End        Pos    `json:"endPos"`
	Goal       string `json:"goal"`
}

// Location converts the obligation span into a Location within file.
func (o Obligation) Location(file string) Location {
	return Location{
		StartLine:   o.Start.Line,
		StartColumn: o.Start.Column,
		EndLine:     o.End.Line,
		EndColumn:   o.End.Column,
		File:        file,
	}
}

// Proof is a candidate replacement for one sorry. It is never stored in the database.
type Proof struct {
	Text string `json:"proof"`
}

// TacticResult is the outcome of applying one tactic. A rejected tactic is an
// expected outcome, not an error.
type TacticResult struct {
	ProofState int      `json:"proofState"`
	Goals      []string `json:"goals"`
	Rejected   bool     `json:"rejected"`
	Message    string   `json:"message,omitempty"`
}

// Closed reports whether the tactic was accepted and left no goals.
func (r TacticResult) Closed() bool {
	return !r.Rejected && len(r.Goals) == 0
}
