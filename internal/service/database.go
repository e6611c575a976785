package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/metrics"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// UpdateOptions configures one crawl cycle.
type UpdateOptions struct {
	// DataDir holds checkouts and REPL builds. Empty means a temporary
	// directory removed after the cycle.
	DataDir string

	// Workers bounds how many repositories are processed concurrently.
	Workers int
}

// DatabaseService owns the incremental update of the sorry database.
type DatabaseService struct {
	store     port.SorryStore
	vcs       port.VCSProvider
	builder   port.Builder
	scanner   *Scanner
	extractor *Extractor
	locks     *CheckoutLocks
	now       func() time.Time
}

// NewDatabaseService wires the crawler.
func NewDatabaseService(store port.SorryStore, vcs port.VCSProvider, builder port.Builder, sessions port.SessionFactory) *DatabaseService {
	return &DatabaseService{
		store:     store,
		vcs:       vcs,
		builder:   builder,
		scanner:   NewScanner(vcs),
		extractor: NewExtractor(sessions, vcs),
		locks:     NewCheckoutLocks(),
		now:       time.Now,
	}
}

// WithCheckoutLocks shares locks with other users of the same data
// directory.
func (s *DatabaseService) WithCheckoutLocks(locks *CheckoutLocks) *DatabaseService {
	s.locks = locks
	return s
}

// Init registers repositories that are not tracked yet, with startingDate
// as their last visit. Known repositories are left untouched.
func (s *DatabaseService) Init(ctx context.Context, urls []string, startingDate time.Time) (int, error) {
	added := 0
	for _, url := range urls {
		_, err := s.store.GetRepo(ctx, url)
		if err == nil {
			slog.Info("repository already tracked", "repo", url)
			continue
		}
		if !errors.Is(err, port.ErrRepoNotFound) {
			return added, err
		}
		repo := domain.Repository{RemoteURL: url, LastTimeVisited: startingDate.UTC()}
		if err := s.store.PutRepo(ctx, repo); err != nil {
			return added, fmt.Errorf("add %s: %w", url, err)
		}
		added++
	}
	if err := s.store.Flush(ctx); err != nil {
		return added, fmt.Errorf("flush: %w", err)
	}
	slog.Info("database initialized", "repos_added", added, "starting_date", startingDate.UTC().Format(time.RFC3339))
	return added, nil
}

// goalSet records every goal text seen so far. It is shared by workers.
type goalSet struct {
	mu    sync.Mutex
	goals map[string]struct{}
}

// add reports whether goal was new.
func (g *goalSet) add(goal string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.goals[goal]; ok {
		return false
	}
	g.goals[goal] = struct{}{}
	return true
}

// Update runs one crawl cycle over every tracked repository. Repository
// failures are recorded in the report and never abort the cycle; the
// returned error is reserved for problems with the store itself.
func (s *DatabaseService) Update(ctx context.Context, opts UpdateOptions) (domain.UpdateReport, error) {
	repos, err := s.store.ListRepos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}

	seen := &goalSet{goals: make(map[string]struct{})}
	err = s.store.IterateSorries(ctx, func(x domain.Sorry) error {
		seen.goals[x.DebugInfo.Goal] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "sorrydb-lean-data-*")
		if err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		defer os.RemoveAll(dataDir)
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	slog.Info("starting update", "repos", len(repos), "workers", workers, "data_dir", dataDir)

	report := make(domain.UpdateReport, len(repos))
	var reportMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, repo := range repos {
		g.Go(func() error {
			rr, err := s.updateRepo(gctx, repo, dataDir, seen)
			reportMu.Lock()
			report[repo.RemoteURL] = rr
			reportMu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	slog.Info("update finished", "repos", len(repos))
	return report, nil
}

// updateRepo processes one repository. Only store errors are returned.
func (s *DatabaseService) updateRepo(ctx context.Context, repo domain.Repository, dataDir string, seen *goalSet) (*domain.RepoReport, error) {
	rr := domain.NewRepoReport(s.now())
	log := slog.With("repo", repo.RemoteURL)

	fail := func(err error) *domain.RepoReport {
		log.Error("repository update failed", "error", err, "kind", domain.KindOf(err))
		rr.Finish(s.now(), domain.RepoStatusFailed, err.Error())
		metrics.CrawlRepositories.WithLabelValues(domain.RepoStatusFailed).Inc()
		return rr
	}

	hash, changed, err := s.scanner.Check(ctx, repo)
	if err != nil {
		return fail(err), nil
	}
	if !changed {
		log.Info("remote heads unchanged, skipping", "hash", hash)
		rr.Finish(s.now(), domain.RepoStatusSkipped, "remote heads unchanged")
		metrics.CrawlRepositories.WithLabelValues(domain.RepoStatusSkipped).Inc()
		return rr, nil
	}

	commits, err := s.scanner.NewCommits(ctx, repo)
	if err != nil {
		return fail(err), nil
	}
	rr.NewLeafCommits = commits
	if rr.NewLeafCommits == nil {
		rr.NewLeafCommits = []domain.LeafCommit{}
	}
	log.Info("new leaf commits", "count", len(commits))

	// Captured before any commit is processed: a commit landing mid-cycle is
	// picked up again next time rather than missed.
	visitTime := s.now().UTC()

	var failed error
	for _, commit := range commits {
		if err := s.processCommit(ctx, repo, commit, dataDir, seen, rr); err != nil {
			if errors.Is(err, errStore) {
				return fail(err), err
			}
			log.Error("commit failed", "commit", commit.SHA, "branch", commit.Branch, "error", err)
			metrics.CrawlCommits.WithLabelValues("failed").Inc()
			failed = errors.Join(failed, fmt.Errorf("commit %s: %w", commit.SHA, err))
			continue
		}
		metrics.CrawlCommits.WithLabelValues("ok").Inc()
	}

	if failed == nil {
		repo.LastTimeVisited = visitTime
		repo.RemoteHeadsHash = &hash
		if err := s.store.PutRepo(ctx, repo); err != nil {
			return fail(err), err
		}
	}
	if err := s.store.Flush(ctx); err != nil {
		return fail(err), fmt.Errorf("flush: %w", err)
	}
	if failed != nil {
		return fail(failed), nil
	}

	rr.Finish(s.now(), domain.RepoStatusUpdated, "")
	metrics.CrawlRepositories.WithLabelValues(domain.RepoStatusUpdated).Inc()
	t := rr.Totals()
	log.Info("repository updated", "sorries", t.Count, "new_goals", t.CountNewGoal, "duration", rr.TotalProcessingTime)
	return rr, nil
}

// errStore marks failures of the database itself, which end the cycle.
var errStore = errors.New("store failure")

// processCommit checks out, builds and extracts one leaf commit, then
// merges its sorries.
func (s *DatabaseService) processCommit(ctx context.Context, repo domain.Repository, commit domain.LeafCommit, dataDir string, seen *goalSet, rr *domain.RepoReport) error {
	log := slog.With("repo", repo.RemoteURL, "commit", commit.SHA, "branch", commit.Branch)

	unlock, err := s.locks.Lock(ctx, dataDir, commit.SHA)
	if err != nil {
		return err
	}
	defer unlock()

	dir, err := s.vcs.Checkout(ctx, repo.RemoteURL, commit.Branch, commit.SHA, dataDir)
	if err != nil {
		return err
	}
	log.Info("building checkout", "dir", dir)
	if err := s.builder.Build(ctx, dir); err != nil {
		return err
	}
	version, err := s.builder.LeanVersion(dir)
	if err != nil {
		return domain.Wrap(domain.KindBuild, "lean version", err)
	}

	found, err := s.extractor.Extract(ctx, dir, version)
	if err != nil {
		return err
	}

	stats := rr.Commit(commit.SHA)
	inclusion := s.now().UTC()
	info := domain.RepoInfo{Remote: repo.RemoteURL, Branch: commit.Branch, Commit: commit.SHA, LeanVersion: version}
	for _, f := range found {
		x := domain.NewSorry(info, f.Location,
			domain.DebugInfo{Goal: f.Goal, URL: repo.RemoteURL + "/" + f.Location.File},
			domain.Metadata{
				BlameEmailHash: domain.HashString(f.Blame.AuthorEmail),
				BlameDate:      f.Blame.Date,
				InclusionDate:  inclusion,
			})
		inserted, err := s.store.PutSorry(ctx, x)
		if err != nil {
			return fmt.Errorf("%w: %v", errStore, err)
		}
		stats.Count++
		if seen.add(f.Goal) {
			stats.CountNewGoal++
		}
		if inserted {
			metrics.SorriesAdded.Inc()
		}
	}
	log.Info("commit processed", "sorries", stats.Count, "new_goals", stats.CountNewGoal)
	return nil
}
