package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies infrastructure failures so callers can tell
// "the prover broke" apart from "the proof is wrong".
type ErrorKind string

// Error kinds.
const (
	KindNetwork         ErrorKind = "network"
	KindBuild           ErrorKind = "build"
	KindSessionStart    ErrorKind = "session_start"
	KindSessionProtocol ErrorKind = "session_protocol"
	KindCommandTimeout  ErrorKind = "command_timeout"
)

// Error is a classified failure raised by the crawl and verification pipelines.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error returns "kind: op: cause".
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or "" when err carries no classification.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
