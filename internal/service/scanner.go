package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// RemoteHeadsHash fingerprints the set of branch tips: the unique SHAs are
// sorted, joined with "_" and hashed; the first 12 hex chars are kept.
func RemoteHeadsHash(heads []domain.RemoteHead) string {
	seen := make(map[string]struct{}, len(heads))
	shas := make([]string, 0, len(heads))
	for _, h := range heads {
		if _, ok := seen[h.SHA]; ok {
			continue
		}
		seen[h.SHA] = struct{}{}
		shas = append(shas, h.SHA)
	}
	sort.Strings(shas)
	sum := sha256.Sum256([]byte(strings.Join(shas, "_")))
	return hex.EncodeToString(sum[:])[:12]
}

// NewLeafCommits keeps the commits dated strictly after since.
func NewLeafCommits(commits []domain.LeafCommit, since time.Time) []domain.LeafCommit {
	var out []domain.LeafCommit
	for _, c := range commits {
		if c.Date.After(since) {
			out = append(out, c)
		}
	}
	return out
}

// Scanner decides whether a repository changed since the last visit.
type Scanner struct {
	vcs port.VCSProvider
}

// NewScanner creates a scanner backed by vcs.
func NewScanner(vcs port.VCSProvider) *Scanner {
	return &Scanner{vcs: vcs}
}

// Check fingerprints the remote and compares it with the stored hash.
func (s *Scanner) Check(ctx context.Context, repo domain.Repository) (string, bool, error) {
	heads, err := s.vcs.RemoteHeads(ctx, repo.RemoteURL)
	if err != nil {
		return "", false, err
	}
	if len(heads) == 0 {
		return "", false, fmt.Errorf("%s: %w", repo.RemoteURL, port.ErrNoRemoteHeads)
	}
	hash := RemoteHeadsHash(heads)
	changed := hash != repo.HeadsHash()
	slog.Debug("remote heads checked", "repo", repo.RemoteURL, "hash", hash, "stored", repo.HeadsHash(), "changed", changed)
	return hash, changed, nil
}

// NewCommits lists the leaf commits of repo added since its last visit.
func (s *Scanner) NewCommits(ctx context.Context, repo domain.Repository) ([]domain.LeafCommit, error) {
	commits, err := s.vcs.LeafCommits(ctx, repo.RemoteURL)
	if err != nil {
		return nil, err
	}
	return NewLeafCommits(commits, repo.LastTimeVisited), nil
}
