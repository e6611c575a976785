// Package repl drives the Lean REPL as a long-lived subprocess speaking
// blank-line delimited JSON over stdin/stdout.
package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateStarting State = iota
	StateReady
	StateBusy
	StateDead
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Default timing values.
const (
	DefaultCommandTimeout = 10 * time.Minute
	DefaultGracePeriod    = 5 * time.Second
)

// Config describes how to launch a session.
type Config struct {
	// Command and Args are executed in Dir, e.g. "lake" ["env", "/path/to/repl"].
	Command string
	Args    []string
	Dir     string
	Env     []string

	// CommandTimeout bounds ReadFile, ApplyTactic and GoalParentType.
	CommandTimeout time.Duration

	// GracePeriod is how long Close waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

// lineEvent is one stdout line or the terminal read error.
type lineEvent struct {
	line string
	err  error
}

// Session is one REPL subprocess. Commands are strictly sequential. Any
// protocol failure or timeout kills the session for good.
type Session struct {
	cfg    Config
	stdin  io.WriteCloser
	stdout io.Closer
	lines  chan lineEvent
	done   chan struct{}
	proc   process

	cmdMu sync.Mutex // serializes commands

	stateMu sync.RWMutex
	state   State
	cause   error

	closeOnce sync.Once
}

// Start launches the REPL described by cfg.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	cfg.applyDefaults()

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, domain.Wrap(domain.KindSessionStart, "lookup "+cfg.Command, err)
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, domain.Wrap(domain.KindSessionStart, "stdin pipe", err)
	}
	// A plain os.Pipe keeps the read end ours: cmd.Wait must not close it
	// while a reply is still being consumed.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, domain.Wrap(domain.KindSessionStart, "stdout pipe", err)
	}
	cmd.Stdout = stdoutW
	stderr := newTailBuffer(16 << 10)
	cmd.Stderr = stderr

	if err := ctx.Err(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, domain.Wrap(domain.KindSessionStart, "start", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, domain.Wrap(domain.KindSessionStart, "start "+cfg.Command, err)
	}
	_ = stdoutW.Close()

	slog.Debug("repl started", "pid", cmd.Process.Pid, "dir", cfg.Dir, "command", cfg.Command, "args", cfg.Args)
	metrics.REPLSessions.WithLabelValues("started").Inc()

	return newSession(cfg, stdin, stdoutR, newOSProcess(cmd, stderr)), nil
}

// newSession wires a session around already-running I/O.
func newSession(cfg Config, stdin io.WriteCloser, stdout io.ReadCloser, proc process) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:    cfg,
		stdin:  stdin,
		stdout: stdout,
		lines:  make(chan lineEvent, 64),
		done:   make(chan struct{}),
		proc:   proc,
		state:  StateStarting,
	}
	go s.readLoop(stdout)
	s.setState(StateReady, nil)
	return s
}

// readLoop forwards stdout lines until EOF or Close.
func (s *Session) readLoop(r io.Reader) {
	defer close(s.lines)
	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case s.lines <- lineEvent{line: strings.TrimRight(line, "\r\n")}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.lines <- lineEvent{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(st State, cause error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == StateDead {
		return
	}
	s.state = st
	if cause != nil {
		s.cause = cause
	}
}

// Send writes one request and waits up to timeout for the blank-line
// terminated reply. A reply carrying an error field is returned together
// with a *ResponseError and leaves the session ready.
func (s *Session) Send(ctx context.Context, req any, timeout time.Duration) (*Response, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stateMu.Lock()
	if s.state != StateReady {
		cause := s.cause
		s.stateMu.Unlock()
		if cause != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionDead, cause)
		}
		return nil, ErrSessionDead
	}
	s.state = StateBusy
	s.stateMu.Unlock()

	resp, err := s.roundTrip(ctx, req, timeout)
	var respErr *ResponseError
	switch {
	case err == nil, errors.As(err, &respErr):
		s.setState(StateReady, nil)
		return resp, err
	default:
		s.fail(err)
		return nil, err
	}
}

func (s *Session) roundTrip(ctx context.Context, req any, timeout time.Duration) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := s.stdin.Write(append(payload, '\n', '\n')); err != nil {
		return nil, domain.Wrap(domain.KindSessionProtocol, "write request", fmt.Errorf("%w: %v", ErrProcessExited, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			// The protocol has no cancellation; the reply can never be
			// re-synchronized, so the session is abandoned.
			return nil, domain.Wrap(domain.KindCommandTimeout, "await reply", ctx.Err())
		case <-timer.C:
			return nil, domain.Wrap(domain.KindCommandTimeout, "await reply",
				fmt.Errorf("%w after %s", ErrCommandTimeout, timeout))
		case ev, ok := <-s.lines:
			if !ok || ev.err != nil {
				if buf.Len() > 0 {
					return decodeResponse(buf.String())
				}
				return nil, domain.Wrap(domain.KindSessionProtocol, "await reply",
					fmt.Errorf("%w: %s", ErrProcessExited, strings.TrimSpace(s.proc.Stderr())))
			}
			if strings.TrimSpace(ev.line) == "" {
				if buf.Len() == 0 {
					continue
				}
				return decodeResponse(buf.String())
			}
			buf.WriteString(ev.line)
			buf.WriteByte('\n')
		}
	}
}

func decodeResponse(raw string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, domain.Wrap(domain.KindSessionProtocol, "decode reply", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if msg := resp.failure(); msg != "" {
		return &resp, &ResponseError{Message: msg}
	}
	return &resp, nil
}

// fail marks the session dead and stops the process.
func (s *Session) fail(cause error) {
	slog.Warn("repl session failed", "dir", s.cfg.Dir, "error", cause)
	s.setState(StateDead, cause)
	metrics.REPLSessions.WithLabelValues("dead").Inc()
	_ = s.Close()
}

// Close terminates the subprocess: stdin is closed, then SIGTERM, then
// SIGKILL after the grace period. The read end of stdout is released last.
// It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(StateDead, errors.New("closed"))
		close(s.done)
		_ = s.stdin.Close()
		err = s.proc.Terminate(s.cfg.GracePeriod)
		_ = s.stdout.Close()
		metrics.REPLSessions.WithLabelValues("closed").Inc()
		slog.Debug("repl terminated", "dir", s.cfg.Dir)
	})
	return err
}

// timed wraps a command with latency and outcome metrics.
func (s *Session) timed(ctx context.Context, name string, req any) (*Response, error) {
	start := time.Now()
	resp, err := s.Send(ctx, req, s.cfg.CommandTimeout)
	metrics.REPLCommandLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	var respErr *ResponseError
	switch {
	case err == nil:
	case errors.As(err, &respErr):
		outcome = "error_reply"
	case errors.Is(err, ErrCommandTimeout):
		outcome = "timeout"
	default:
		outcome = "failed"
	}
	metrics.REPLCommands.WithLabelValues(name, outcome).Inc()
	return resp, err
}

// ReadFile elaborates file and returns every sorry it contains.
func (s *Session) ReadFile(ctx context.Context, file string) ([]domain.Obligation, error) {
	resp, err := s.timed(ctx, "read_file", FileCommand{Path: file, AllTactics: true})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	slog.Debug("repl elaborated file", "file", file, "sorries", len(resp.Sorries), "errors", len(resp.Errors()))
	return resp.Sorries, nil
}

// ApplyTactic runs tactic on proofState. A rejected tactic is reported in
// the result, not as an error.
func (s *Session) ApplyTactic(ctx context.Context, proofState int, tactic string) (*domain.TacticResult, error) {
	resp, err := s.timed(ctx, "apply_tactic", TacticCommand{Tactic: tactic, ProofState: proofState})
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return &domain.TacticResult{Rejected: true, Message: respErr.Message}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply tactic: %w", err)
	}
	if errs := resp.Errors(); len(errs) > 0 {
		return &domain.TacticResult{Rejected: true, Message: strings.Join(errs, "\n")}, nil
	}
	if resp.ProofState == nil {
		s.fail(ErrMalformedResponse)
		return nil, domain.Wrap(domain.KindSessionProtocol, "apply tactic",
			fmt.Errorf("%w: reply has no proofState", ErrMalformedResponse))
	}
	return &domain.TacticResult{ProofState: *resp.ProofState, Goals: resp.Goals}, nil
}

// GoalParentType returns the type of the goal's type at proofState. A
// *ResponseError is returned when the REPL rejects the query.
func (s *Session) GoalParentType(ctx context.Context, proofState int) (string, error) {
	resp, err := s.timed(ctx, "goal_parent_type", TacticCommand{Tactic: parentTypeTactic, ProofState: proofState})
	if err != nil {
		return "", fmt.Errorf("goal parent type: %w", err)
	}
	if t, ok := resp.parentType(); ok {
		return t, nil
	}
	return "", &ResponseError{Message: "no parent type in reply"}
}
