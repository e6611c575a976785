// Package lean wraps the lake build tool for Lean 4 projects.
package lean

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

const mathlibURL = "https://github.com/leanprover-community/mathlib4"

// LakeBuilder implements port.Builder with the lake CLI.
type LakeBuilder struct {
	buildTimeout time.Duration
	checkTimeout time.Duration
}

// NewLakeBuilder creates a builder. Zero timeouts mean no limit.
func NewLakeBuilder(buildTimeout, checkTimeout time.Duration) *LakeBuilder {
	return &LakeBuilder{buildTimeout: buildTimeout, checkTimeout: checkTimeout}
}

// Build fetches the mathlib cache when the project depends on it and runs `lake build`.
func (b *LakeBuilder) Build(ctx context.Context, dir string) error {
	if b.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.buildTimeout)
		defer cancel()
	}

	if usesMathlib(dir) {
		slog.Info("getting mathlib build cache", "dir", dir)
		if out, err := b.lake(ctx, dir, "exe", "cache", "get"); err != nil {
			slog.Warn("lake exe cache get failed, continuing", "dir", dir, "error", err, "output", tail(out, 5))
		}
	}

	slog.Info("building project", "dir", dir)
	out, err := b.lake(ctx, dir, "build")
	if err != nil {
		return domain.Wrap(domain.KindBuild, "lake build", fmt.Errorf("%w: %s", err, tail(out, 20)))
	}
	return nil
}

// CheckFile elaborates a single file with `lake env lean`.
func (b *LakeBuilder) CheckFile(ctx context.Context, dir, file string) (string, error) {
	if b.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.checkTimeout)
		defer cancel()
	}
	out, err := b.lake(ctx, dir, "env", "lean", file)
	if err != nil {
		return strings.TrimSpace(out), domain.Wrap(domain.KindBuild, "lake env lean "+file, err)
	}
	return strings.TrimSpace(out), nil
}

// LeanVersion reads lean-toolchain, e.g. "leanprover/lean4:v4.17.0-rc1" -> "v4.17.0-rc1".
func (b *LakeBuilder) LeanVersion(dir string) (string, error) {
	return ToolchainVersion(dir)
}

func (b *LakeBuilder) lake(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "lake", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("lake %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// ToolchainVersion parses the lean-toolchain file of a project.
func ToolchainVersion(dir string) (string, error) {
	path := filepath.Join(dir, "lean-toolchain")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read lean-toolchain: %w", err)
	}
	content := strings.TrimSpace(string(data))
	_, version, ok := strings.Cut(content, ":")
	if !ok || version == "" {
		return "", fmt.Errorf("unexpected lean-toolchain format %q", content)
	}
	return version, nil
}

// usesMathlib reports whether the lake manifest references mathlib, or the
// project is a mathlib fork itself.
func usesMathlib(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "lake-manifest.json"))
	if err != nil {
		return false
	}
	manifest := string(data)
	return strings.Contains(manifest, mathlibURL) || strings.Contains(manifest, `"name": "mathlib"`)
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
