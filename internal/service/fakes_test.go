package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// fakeRemote is one repository served by fakeVCS.
type fakeRemote struct {
	heads   []domain.RemoteHead
	commits []domain.LeafCommit
	files   map[string]map[string]string // sha -> path -> content
	headErr error
}

type fakeVCS struct {
	mu        sync.Mutex
	remotes   map[string]*fakeRemote
	checkouts []string
	blame     domain.Blame
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		remotes: make(map[string]*fakeRemote),
		blame: domain.Blame{
			Commit:      "blamecommit",
			Author:      "Ada",
			AuthorEmail: "ada@example.com",
			Date:        time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			Summary:     "add lemma",
		},
	}
}

func (f *fakeVCS) remote(url string) (*fakeRemote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.remotes[url]
	if !ok {
		return nil, domain.Wrap(domain.KindNetwork, "ls-remote "+url, errors.New("repository not found"))
	}
	return r, nil
}

func (f *fakeVCS) RemoteHeads(_ context.Context, url string) ([]domain.RemoteHead, error) {
	r, err := f.remote(url)
	if err != nil {
		return nil, err
	}
	if r.headErr != nil {
		return nil, r.headErr
	}
	return r.heads, nil
}

func (f *fakeVCS) LeafCommits(_ context.Context, url string) ([]domain.LeafCommit, error) {
	r, err := f.remote(url)
	if err != nil {
		return nil, err
	}
	return r.commits, nil
}

func (f *fakeVCS) Checkout(_ context.Context, url, _, sha, baseDir string) (string, error) {
	r, err := f.remote(url)
	if err != nil {
		return "", err
	}
	files, ok := r.files[sha]
	if !ok {
		return "", domain.Wrap(domain.KindNetwork, "clone "+url, fmt.Errorf("unknown commit %s", sha))
	}
	dir := filepath.Join(baseDir, sha)
	if err := writeTree(dir, files); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.checkouts = append(f.checkouts, sha)
	f.mu.Unlock()
	return dir, nil
}

func (f *fakeVCS) Blame(_ context.Context, _, _ string, _ int) (*domain.Blame, error) {
	b := f.blame
	return &b, nil
}

func writeTree(dir string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// fakeBuilder fails CheckFile for files containing "bad_tactic" and Build
// for checkouts containing a file named BROKEN.
type fakeBuilder struct {
	mu     sync.Mutex
	builds []string
}

func (b *fakeBuilder) Build(_ context.Context, dir string) error {
	b.mu.Lock()
	b.builds = append(b.builds, dir)
	b.mu.Unlock()
	if _, err := os.Stat(filepath.Join(dir, "BROKEN")); err == nil {
		return domain.Wrap(domain.KindBuild, "lake build", errors.New("compilation failed"))
	}
	return nil
}

func (b *fakeBuilder) CheckFile(_ context.Context, dir, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(file)))
	if err != nil {
		return "", err
	}
	if strings.Contains(string(data), "bad_tactic") {
		return file + ":3:4: error: unknown tactic", errors.New("exit status 1")
	}
	return "", nil
}

func (b *fakeBuilder) LeanVersion(string) (string, error) { return "v4.9.0", nil }

// fakeProver reads real files and reports every "sorry" token as an
// obligation. The goal is the statement of the nearest preceding
// "theorem name : statement :=" or "def" line.
type fakeProver struct {
	dir    string
	failOn string
}

func (p *fakeProver) ReadFile(_ context.Context, file string) ([]domain.Obligation, error) {
	if p.failOn != "" && strings.Contains(file, p.failOn) {
		return nil, domain.Wrap(domain.KindCommandTimeout, "await reply", errors.New("repl command timed out"))
	}
	f, err := os.Open(filepath.Join(p.dir, filepath.FromSlash(file)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		out  []domain.Obligation
		goal string
		line int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line++
		text := sc.Text()
		trimmed := strings.TrimSpace(text)
		for _, kw := range []string{"theorem ", "def "} {
			if strings.HasPrefix(trimmed, kw) {
				stmt := trimmed
				if _, after, ok := strings.Cut(stmt, " : "); ok {
					stmt = after
				}
				stmt, _, _ = strings.Cut(stmt, " :=")
				goal = "⊢ " + stmt
				if kw == "def " {
					goal = "def " + goal
				}
			}
		}
		runes := []rune(text)
		for col := 0; col+5 <= len(runes); col++ {
			if string(runes[col:col+5]) == "sorry" {
				out = append(out, domain.Obligation{
					ProofState: len(out),
					Start:      domain.Pos{Line: line, Column: col},
					End:        domain.Pos{Line: line, Column: col + 5},
					Goal:       goal,
				})
			}
		}
	}
	return out, sc.Err()
}

func (p *fakeProver) ApplyTactic(context.Context, int, string) (*domain.TacticResult, error) {
	return &domain.TacticResult{Rejected: true}, nil
}

func (p *fakeProver) GoalParentType(context.Context, int) (string, error) {
	return "Prop", nil
}

func (p *fakeProver) Close() error { return nil }

// fakeSessions opens fakeProvers and counts them.
type fakeSessions struct {
	mu      sync.Mutex
	opened  int
	openErr error
	failOn  string
}

func (s *fakeSessions) Open(_ context.Context, dir, _ string) (port.ProverSession, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return &parentAwareProver{fakeProver: &fakeProver{dir: dir, failOn: s.failOn}}, nil
}

// parentAwareProver answers GoalParentType from the goals it last reported:
// sorries inside a def have parent type Type, goals mentioning
// unknown_parent are rejected, everything else is a Prop.
type parentAwareProver struct {
	*fakeProver
	last []domain.Obligation
}

func (p *parentAwareProver) ReadFile(ctx context.Context, file string) ([]domain.Obligation, error) {
	obs, err := p.fakeProver.ReadFile(ctx, file)
	p.last = obs
	return obs, err
}

func (p *parentAwareProver) GoalParentType(_ context.Context, proofState int) (string, error) {
	for _, ob := range p.last {
		if ob.ProofState == proofState {
			if strings.HasPrefix(ob.Goal, "def ") {
				return "Type", nil
			}
			if strings.Contains(ob.Goal, "unknown_parent") {
				return "", rejected{}
			}
			return "Prop", nil
		}
	}
	return "", rejected{}
}

// rejected mimics a well-formed prover error reply.
type rejected struct{}

func (rejected) Error() string        { return "repl error: unknown proof state" }
func (rejected) Is(target error) bool { return target == port.ErrProverRejected }
