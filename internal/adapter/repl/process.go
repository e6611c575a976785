package repl

import (
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// process is the handle a Session uses to stop its subprocess.
type process interface {
	Terminate(grace time.Duration) error
	Stderr() string
}

// osProcess is a started command running in its own process group.
type osProcess struct {
	cmd      *exec.Cmd
	stderr   *tailBuffer
	waitDone chan struct{}
	waitErr  error
}

func newOSProcess(cmd *exec.Cmd, stderr *tailBuffer) *osProcess {
	p := &osProcess{cmd: cmd, stderr: stderr, waitDone: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()
	return p
}

// Terminate sends SIGTERM to the process group, waits up to grace and then
// sends SIGKILL. It returns once the process has been reaped.
func (p *osProcess) Terminate(grace time.Duration) error {
	pgid := p.cmd.Process.Pid

	select {
	case <-p.waitDone:
		return nil
	default:
	}

	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(grace):
	}

	slog.Warn("repl did not exit after SIGTERM, killing", "pid", pgid, "grace", grace)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-p.waitDone
	return nil
}

func (p *osProcess) Stderr() string {
	return p.stderr.String()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
