package repl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// DefaultRepoURL is the upstream REPL project.
const DefaultRepoURL = "https://github.com/leanprover-community/repl"

// FactoryConfig configures REPL binary setup and session launch.
type FactoryConfig struct {
	DataDir        string // where REPL checkouts are built
	RepoURL        string
	CommandTimeout time.Duration
	GracePeriod    time.Duration
	BuildTimeout   time.Duration
}

// Factory implements port.SessionFactory. It builds one REPL binary per
// Lean version and reuses it for every session.
type Factory struct {
	cfg FactoryConfig

	mu       sync.Mutex
	binaries map[string]string
}

// NewFactory creates a session factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.RepoURL == "" {
		cfg.RepoURL = DefaultRepoURL
	}
	return &Factory{cfg: cfg, binaries: make(map[string]string)}
}

// Open starts a REPL in dir through `lake env` so the project's search
// path is visible to the prover.
func (f *Factory) Open(ctx context.Context, dir, leanVersion string) (port.ProverSession, error) {
	bin, err := f.Binary(ctx, leanVersion)
	if err != nil {
		return nil, err
	}
	return Start(ctx, Config{
		Command:        "lake",
		Args:           []string{"env", bin},
		Dir:            dir,
		CommandTimeout: f.cfg.CommandTimeout,
		GracePeriod:    f.cfg.GracePeriod,
	})
}

// Binary returns the REPL executable for leanVersion, cloning and building
// it on first use. An empty version selects the default branch.
func (f *Factory) Binary(ctx context.Context, leanVersion string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if bin, ok := f.binaries[leanVersion]; ok {
		return bin, nil
	}

	bin, err := f.setup(ctx, leanVersion)
	if err != nil {
		return "", domain.Wrap(domain.KindSessionStart, "setup repl "+leanVersion, err)
	}
	f.binaries[leanVersion] = bin
	return bin, nil
}

// setup builds the REPL under <DataDir>/repl_<version>. A directory left
// behind without a binary is an interrupted or failed build and is redone;
// every failure removes the directory again.
func (f *Factory) setup(ctx context.Context, version string) (string, error) {
	replDir := filepath.Join(f.cfg.DataDir, replDirName(version))
	bin := filepath.Join(replDir, ".lake", "build", "bin", "repl")

	if _, err := os.Stat(bin); err == nil {
		slog.Info("repl binary ready", "path", bin)
		return bin, nil
	}
	if err := os.RemoveAll(replDir); err != nil {
		return "", fmt.Errorf("remove incomplete repl build: %w", err)
	}

	if err := f.build(ctx, version, replDir); err != nil {
		_ = os.RemoveAll(replDir)
		return "", err
	}
	if _, err := os.Stat(bin); err != nil {
		_ = os.RemoveAll(replDir)
		return "", fmt.Errorf("repl binary not found at %s: %w", bin, err)
	}
	slog.Info("repl binary ready", "path", bin)
	return bin, nil
}

func (f *Factory) build(ctx context.Context, version, replDir string) error {
	if f.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.BuildTimeout)
		defer cancel()
	}

	slog.Info("cloning repl", "url", f.cfg.RepoURL, "dir", replDir)
	if out, err := exec.CommandContext(ctx, "git", "clone", f.cfg.RepoURL, replDir).CombinedOutput(); err != nil {
		return fmt.Errorf("git clone repl: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if version != "" {
		slog.Info("checking out repl", "tag", version)
		if out, err := exec.CommandContext(ctx, "git", "-C", replDir, "checkout", version).CombinedOutput(); err != nil {
			return fmt.Errorf("git checkout %s: %w: %s", version, err, strings.TrimSpace(string(out)))
		}
	}

	slog.Info("building repl", "dir", replDir)
	build := exec.CommandContext(ctx, "lake", "build")
	build.Dir = replDir
	if out, err := build.CombinedOutput(); err != nil {
		return fmt.Errorf("lake build repl: %w: %s", err, lastLines(string(out), 20))
	}
	return nil
}

// replDirName maps "v4.17.0-rc1" to "repl_v4_17_0_rc1".
func replDirName(version string) string {
	if version == "" {
		return "repl"
	}
	return "repl_" + strings.NewReplacer(".", "_", "-", "_").Replace(version)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
