package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/metrics"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// VerifyRequest asks whether Proof can replace the sorry at Location.
type VerifyRequest struct {
	CheckoutDir string          `json:"checkout_dir"`
	Location    domain.Location `json:"location"`
	Proof       string          `json:"proof"`

	// LeanVersion selects the prover; empty means read it from the checkout.
	LeanVersion string `json:"lean_version,omitempty"`
}

// Verifier checks candidate proofs against a built checkout.
type Verifier struct {
	builder  port.Builder
	sessions port.SessionFactory
}

// NewVerifier creates a verifier.
func NewVerifier(builder port.Builder, sessions port.SessionFactory) *Verifier {
	return &Verifier{builder: builder, sessions: sessions}
}

// Verify splices the proof into the file and accepts it when the modified
// file builds, has exactly one sorry less, and every other sorry keeps its
// position and goal. Failures are reported in the result, never as errors.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) domain.VerifyResult {
	start := time.Now()
	res := v.verify(ctx, req)
	metrics.VerificationLatency.Observe(time.Since(start).Seconds())
	kind := string(res.Kind)
	if res.OK {
		kind = "ok"
	}
	metrics.Verifications.WithLabelValues(kind).Inc()
	slog.Info("verification finished", "file", req.Location.File, "line", req.Location.StartLine, "ok", res.OK, "kind", kind)
	return res
}

func (v *Verifier) verify(ctx context.Context, req VerifyRequest) domain.VerifyResult {
	loc := req.Location
	if loc.File == "" {
		return domain.Rejected(domain.FailureInvalidLocation, "location has no file")
	}
	path := filepath.Join(req.CheckoutDir, filepath.FromSlash(loc.File))
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Rejected(domain.FailureInvalidLocation, fmt.Sprintf("read %s: %v", loc.File, err))
	}
	original := []rune(string(data))

	startIdx, err := PositionToOffset(original, loc.StartLine, loc.StartColumn)
	if err != nil {
		return domain.Rejected(domain.FailureInvalidLocation, "start: "+err.Error())
	}
	endIdx, err := PositionToOffset(original, loc.EndLine, loc.EndColumn)
	if err != nil {
		return domain.Rejected(domain.FailureInvalidLocation, "end: "+err.Error())
	}
	if endIdx < startIdx {
		return domain.Rejected(domain.FailureInvalidLocation, "end precedes start")
	}

	proof := []rune(req.Proof)
	modified := make([]rune, 0, len(original)-(endIdx-startIdx)+len(proof))
	modified = append(modified, original[:startIdx]...)
	modified = append(modified, proof...)
	modified = append(modified, original[endIdx:]...)
	delta := len(proof) - (endIdx - startIdx)

	scratch, err := writeScratch(filepath.Dir(path), string(modified))
	if err != nil {
		return domain.Rejected(domain.FailureSession, err.Error())
	}
	defer os.Remove(scratch)

	scratchRel, err := filepath.Rel(req.CheckoutDir, scratch)
	if err != nil {
		return domain.Rejected(domain.FailureSession, err.Error())
	}
	scratchRel = filepath.ToSlash(scratchRel)

	if diag, err := v.builder.CheckFile(ctx, req.CheckoutDir, scratchRel); err != nil {
		if ctx.Err() != nil {
			return domain.Rejected(domain.FailureSession, ctx.Err().Error())
		}
		if diag == "" {
			diag = err.Error()
		}
		return domain.Rejected(domain.FailureBuild, diag)
	}

	version := req.LeanVersion
	if version == "" {
		if version, err = v.builder.LeanVersion(req.CheckoutDir); err != nil {
			return domain.Rejected(domain.FailureSession, err.Error())
		}
	}
	session, err := v.sessions.Open(ctx, req.CheckoutDir, version)
	if err != nil {
		return domain.Rejected(domain.FailureSession, err.Error())
	}
	defer session.Close()

	before, err := session.ReadFile(ctx, loc.File)
	if err != nil {
		return domain.Rejected(domain.FailureSession, "elaborate original: "+err.Error())
	}
	after, err := session.ReadFile(ctx, scratchRel)
	if err != nil {
		return domain.Rejected(domain.FailureSession, "elaborate modified: "+err.Error())
	}

	return CompareObligations(original, before, modified, after, startIdx, delta)
}

// CompareObligations checks that exactly the obligation at target was
// removed and every other one survives at its shifted offset with the same
// goal.
func CompareObligations(original []rune, before []domain.Obligation, modified []rune, after []domain.Obligation, target, delta int) domain.VerifyResult {
	if len(before) != len(after)+1 {
		return domain.Rejected(domain.FailureCountMismatch,
			fmt.Sprintf("expected exactly one sorry removed: %d before, %d after", len(before), len(after)))
	}

	afterByOffset := make(map[int]string, len(after))
	for _, ob := range after {
		off, err := PositionToOffset(modified, ob.Start.Line, ob.Start.Column)
		if err != nil {
			return domain.Rejected(domain.FailureSession, "prover reported an invalid position: "+err.Error())
		}
		afterByOffset[off] = ob.Goal
	}

	replaced := false
	for _, ob := range before {
		off, err := PositionToOffset(original, ob.Start.Line, ob.Start.Column)
		if err != nil {
			return domain.Rejected(domain.FailureSession, "prover reported an invalid position: "+err.Error())
		}
		if off == target {
			replaced = true
			continue
		}
		expected := off
		if off > target {
			expected += delta
		}
		goal, ok := afterByOffset[expected]
		if !ok {
			return domain.Rejected(domain.FailurePositionMismatch,
				fmt.Sprintf("sorry at line %d column %d has no counterpart", ob.Start.Line, ob.Start.Column))
		}
		if goal != ob.Goal {
			return domain.Rejected(domain.FailureGoalMismatch,
				fmt.Sprintf("goal of sorry at line %d column %d changed", ob.Start.Line, ob.Start.Column))
		}
	}
	if !replaced {
		return domain.Rejected(domain.FailurePositionMismatch, "no sorry at the target location")
	}
	return domain.Verified()
}

// PositionToOffset converts a 1-based line and 0-based code point column
// into an offset into text. The column may point just past the line end.
func PositionToOffset(text []rune, line, column int) (int, error) {
	if line < 1 {
		return 0, fmt.Errorf("line %d out of range", line)
	}
	if column < 0 {
		return 0, fmt.Errorf("column %d out of range", column)
	}
	offset := 0
	for l := 1; l < line; l++ {
		i := indexRune(text[offset:], '\n')
		if i < 0 {
			return 0, fmt.Errorf("line %d out of range", line)
		}
		offset += i + 1
	}
	lineLen := indexRune(text[offset:], '\n')
	if lineLen < 0 {
		lineLen = len(text) - offset
	}
	if column > lineLen {
		return 0, fmt.Errorf("column %d out of range for line %d (length %d)", column, line, lineLen)
	}
	return offset + column, nil
}

func indexRune(s []rune, r rune) int {
	for i, c := range s {
		if c == r {
			return i
		}
	}
	return -1
}

// writeScratch writes content to a fresh file in dir. Each call gets its
// own name so concurrent verifications never collide.
func writeScratch(dir, content string) (string, error) {
	f, err := os.CreateTemp(dir, ScratchPrefix+"*.lean")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return f.Name(), nil
}

// ScratchPrefix is the name prefix of verification scratch files.
const ScratchPrefix = "SorryVerify"

// IsScratchFile reports whether name looks like a verification scratch file.
func IsScratchFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ScratchPrefix)
}
