package repl

import (
	"errors"
	"fmt"

	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// Session failures. All of them except *ResponseError leave the session dead.
var (
	ErrSessionDead       = errors.New("repl session is dead")
	ErrCommandTimeout    = errors.New("repl command timed out")
	ErrProcessExited     = errors.New("repl process exited")
	ErrMalformedResponse = errors.New("malformed repl response")
)

// ResponseError is a well-formed REPL reply that reports a failure, e.g. a
// rejected tactic or an unknown proof state. The session stays usable.
type ResponseError struct {
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("repl error: %s", e.Message)
}

// Is lets callers outside this package match port.ErrProverRejected.
func (e *ResponseError) Is(target error) bool {
	return target == port.ErrProverRejected
}
