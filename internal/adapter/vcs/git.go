package vcs

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

// GitProvider implements port.VCSProvider using the git CLI.
type GitProvider struct {
	// dirLocks serializes Checkout per destination directory
	dirLocks   map[string]*sync.Mutex
	dirLocksMu sync.Mutex
}

// NewGitProvider creates a new Git VCS provider.
func NewGitProvider() *GitProvider {
	return &GitProvider{dirLocks: make(map[string]*sync.Mutex)}
}

func (g *GitProvider) getDirLock(dir string) *sync.Mutex {
	g.dirLocksMu.Lock()
	defer g.dirLocksMu.Unlock()

	if g.dirLocks == nil {
		g.dirLocks = make(map[string]*sync.Mutex)
	}
	if lock, ok := g.dirLocks[dir]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	g.dirLocks[dir] = lock
	return lock
}

// git runs a git command and returns stdout. Prompts are disabled so a
// private or vanished remote fails instead of hanging.
func (g *GitProvider) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// RemoteHeads lists branch tips with `git ls-remote --heads`.
func (g *GitProvider) RemoteHeads(ctx context.Context, url string) ([]domain.RemoteHead, error) {
	out, err := g.git(ctx, "ls-remote", "--heads", url)
	if err != nil {
		return nil, domain.Wrap(domain.KindNetwork, "git ls-remote "+url, err)
	}
	heads := parseLsRemote(string(out))
	slog.Debug("listed remote heads", "repo", url, "branches", len(heads))
	return heads, nil
}

// parseLsRemote parses "<sha>\trefs/heads/<branch>" lines.
func parseLsRemote(output string) []domain.RemoteHead {
	var heads []domain.RemoteHead
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sha, ref, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		heads = append(heads, domain.RemoteHead{
			Branch: strings.TrimPrefix(ref, "refs/heads/"),
			SHA:    sha,
		})
	}
	return heads
}

// LeafCommits fetches only the tip commit of every branch (depth 1, no
// blobs) into a scratch bare repository and reads their commit dates.
func (g *GitProvider) LeafCommits(ctx context.Context, url string) ([]domain.LeafCommit, error) {
	tmp, err := os.MkdirTemp("", "sorrydb-heads-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch repo: %w", err)
	}
	defer os.RemoveAll(tmp)

	if _, err := g.git(ctx, "init", "--bare", "-q", tmp); err != nil {
		return nil, fmt.Errorf("git init: %w", err)
	}
	if _, err := g.git(ctx, "-C", tmp, "fetch", "-q", "--depth=1", "--filter=blob:none", "--no-tags",
		url, "+refs/heads/*:refs/heads/*"); err != nil {
		return nil, domain.Wrap(domain.KindNetwork, "git fetch "+url, err)
	}

	out, err := g.git(ctx, "-C", tmp, "for-each-ref",
		"--format=%(objectname)|%(committerdate:iso-strict)|%(refname:strip=2)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w", err)
	}
	return parseForEachRef(string(out))
}

// parseForEachRef parses "<sha>|<iso date>|<branch>" lines.
func parseForEachRef(output string) ([]domain.LeafCommit, error) {
	var commits []domain.LeafCommit
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 {
			continue
		}
		date, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse commit date %q: %w", parts[1], err)
		}
		commits = append(commits, domain.LeafCommit{SHA: parts[0], Branch: parts[2], Date: date})
	}
	return commits, nil
}

// Checkout clones branch into baseDir/<sha> and checks out sha. An existing
// directory already at sha is reused. The clone is made in a scratch
// directory next to the destination and renamed into place once complete,
// so baseDir/<sha> only ever holds a finished checkout.
func (g *GitProvider) Checkout(ctx context.Context, url, branch, sha, baseDir string) (string, error) {
	dest := filepath.Join(baseDir, sha)
	lock := g.getDirLock(dest)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(dest); err == nil {
		if g.headIs(ctx, dest, sha) {
			slog.Info("reusing checkout", "repo", url, "commit", sha)
			return dest, nil
		}
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("remove stale checkout: %w", err)
		}
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create checkout dir: %w", err)
	}
	tmp, err := os.MkdirTemp(baseDir, "."+sha+"-clone-*")
	if err != nil {
		return "", fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	slog.Info("cloning repository", "repo", url, "branch", branch)
	if _, err := g.git(ctx, "clone", "-q", "--branch", branch, "--single-branch", url, tmp); err != nil {
		return "", domain.Wrap(domain.KindNetwork, "git clone "+url, err)
	}
	if _, err := g.git(ctx, "-C", tmp, "checkout", "-q", sha); err != nil {
		return "", fmt.Errorf("git checkout %s: %w", sha, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		// Another process may have finished the same checkout first.
		if g.headIs(ctx, dest, sha) {
			return dest, nil
		}
		return "", fmt.Errorf("move checkout into place: %w", err)
	}
	return dest, nil
}

func (g *GitProvider) headIs(ctx context.Context, dir, sha string) bool {
	out, err := g.git(ctx, "-C", dir, "rev-parse", "HEAD")
	return err == nil && strings.TrimSpace(string(out)) == sha
}

// Blame returns the author of one line at HEAD.
func (g *GitProvider) Blame(ctx context.Context, repoPath, file string, line int) (*domain.Blame, error) {
	out, err := g.git(ctx, "-C", repoPath, "blame", "--porcelain",
		"-L", fmt.Sprintf("%d,%d", line, line), "HEAD", "--", file)
	if err != nil {
		return nil, fmt.Errorf("git blame %s:%d: %w", file, line, err)
	}
	return parseBlamePorcelain(string(out))
}

// parseBlamePorcelain reads the header block of `git blame --porcelain`.
func parseBlamePorcelain(output string) (*domain.Blame, error) {
	sc := bufio.NewScanner(strings.NewReader(output))
	var (
		b        domain.Blame
		unixTime int64
		tz       string
		first    = true
	)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "\t") {
			break // the blamed line itself ends the header
		}
		if first {
			b.Commit, _, _ = strings.Cut(line, " ")
			first = false
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			b.Author = value
		case "author-mail":
			b.AuthorEmail = strings.Trim(value, "<>")
		case "author-time":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse author-time %q: %w", value, err)
			}
			unixTime = n
		case "author-tz":
			tz = value
		case "summary":
			b.Summary = value
		}
	}
	if b.Commit == "" {
		return nil, fmt.Errorf("empty blame output")
	}
	b.Date = time.Unix(unixTime, 0).In(parseTZ(tz))
	return &b, nil
}

// parseTZ turns "+0130" into a fixed zone; unknown input yields UTC.
func parseTZ(tz string) *time.Location {
	if len(tz) != 5 {
		return time.UTC
	}
	hours, err1 := strconv.Atoi(tz[1:3])
	mins, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return time.UTC
	}
	offset := hours*3600 + mins*60
	if tz[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(tz, offset)
}
