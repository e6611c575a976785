package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

const propType = "Prop"

// ExtractedSorry is one obligation found in a checkout, before it is pinned
// to a repository and commit.
type ExtractedSorry struct {
	Location   domain.Location
	Goal       string
	ParentType string
	Blame      domain.Blame
}

// Extractor finds the sorries of a built checkout.
type Extractor struct {
	sessions port.SessionFactory
	vcs      port.VCSProvider
}

// NewExtractor creates an extractor.
func NewExtractor(sessions port.SessionFactory, vcs port.VCSProvider) *Extractor {
	return &Extractor{sessions: sessions, vcs: vcs}
}

// Extract elaborates every Lean file of dir that mentions sorry.
func (e *Extractor) Extract(ctx context.Context, dir, leanVersion string) ([]ExtractedSorry, error) {
	files, err := CandidateFiles(dir)
	if err != nil {
		return nil, err
	}
	slog.Info("found files containing potential sorries", "dir", dir, "files", len(files))

	var out []ExtractedSorry
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := e.extractFile(ctx, dir, leanVersion, file)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", file, err)
		}
		if len(found) > 0 {
			slog.Info("found sorries", "file", file, "count", len(found))
		}
		out = append(out, found...)
	}
	slog.Info("extraction finished", "dir", dir, "sorries", len(out))
	return out, nil
}

// extractFile runs one session over one file.
func (e *Extractor) extractFile(ctx context.Context, dir, leanVersion, file string) ([]ExtractedSorry, error) {
	session, err := e.sessions.Open(ctx, dir, leanVersion)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	obligations, err := session.ReadFile(ctx, file)
	if err != nil {
		return nil, err
	}

	var out []ExtractedSorry
	for _, ob := range obligations {
		parent, err := session.GoalParentType(ctx, ob.ProofState)
		switch {
		case errors.Is(err, port.ErrProverRejected):
			slog.Warn("goal parent type unavailable, skipping sorry", "file", file, "line", ob.Start.Line, "error", err)
			continue
		case err != nil:
			return nil, err
		}
		if parent != propType {
			slog.Debug("skipping non-proof sorry", "file", file, "line", ob.Start.Line, "parent_type", parent)
			continue
		}

		blame, err := e.vcs.Blame(ctx, dir, file, ob.Start.Line)
		if err != nil {
			return nil, err
		}
		out = append(out, ExtractedSorry{
			Location:   ob.Location(file),
			Goal:       ob.Goal,
			ParentType: parent,
			Blame:      *blame,
		})
	}
	return out, nil
}

// CandidateFiles returns the *.lean files under dir (relative, slash
// separated, sorted) that contain the word sorry. Build output in .lake is
// skipped.
func CandidateFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".lake" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".lean" || IsScratchFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Contains(data, []byte("sorry")) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
