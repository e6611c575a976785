package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

func TestCheckoutLocks(t *testing.T) {
	ctx := context.Background()

	t.Run("same checkout is exclusive", func(t *testing.T) {
		locks := NewCheckoutLocks()
		unlock, err := locks.Lock(ctx, "/data", "cafe")
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			again, err := locks.Lock(ctx, "/data/", "cafe")
			if err == nil {
				close(acquired)
				again()
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second holder entered a locked checkout")
		case <-time.After(50 * time.Millisecond):
		}
		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("lock was not handed over")
		}
	})

	t.Run("distinct checkouts are independent", func(t *testing.T) {
		locks := NewCheckoutLocks()
		a, err := locks.Lock(ctx, "/data", "cafe")
		require.NoError(t, err)
		defer a()
		b, err := locks.Lock(ctx, "/data", "beef")
		require.NoError(t, err)
		defer b()
		c, err := locks.Lock(ctx, "/other", "cafe")
		require.NoError(t, err)
		c()
	})

	t.Run("waiting gives up with the context", func(t *testing.T) {
		locks := NewCheckoutLocks()
		unlock, err := locks.Lock(ctx, "/data", "cafe")
		require.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = locks.Lock(waitCtx, "/data", "cafe")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// overlapBuilder flags any two builds or file checks running in one
// checkout at the same time.
type overlapBuilder struct {
	*fakeBuilder
	mu      sync.Mutex
	active  map[string]int
	overlap atomic.Bool
}

func (b *overlapBuilder) enter(dir string) func() {
	b.mu.Lock()
	b.active[dir]++
	if b.active[dir] > 1 {
		b.overlap.Store(true)
	}
	b.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return func() {
		b.mu.Lock()
		b.active[dir]--
		b.mu.Unlock()
	}
}

func (b *overlapBuilder) Build(ctx context.Context, dir string) error {
	defer b.enter(dir)()
	return b.fakeBuilder.Build(ctx, dir)
}

func (b *overlapBuilder) CheckFile(ctx context.Context, dir, file string) (string, error) {
	defer b.enter(dir)()
	return b.fakeBuilder.CheckFile(ctx, dir, file)
}

func TestProofRunner_ConcurrentVerifySameCommit(t *testing.T) {
	vcs := newFakeVCS()
	vcs.remotes[remoteURL] = &fakeRemote{
		files: map[string]map[string]string{"cafe": {"Proj/Main.lean": verifyLean}},
	}
	builder := &overlapBuilder{fakeBuilder: &fakeBuilder{}, active: make(map[string]int)}
	dataDir := t.TempDir()
	locks := NewCheckoutLocks()
	verifier := NewVerifier(builder, &fakeSessions{})
	// Two runners over one data dir, as the HTTP server and a crawl share it.
	runners := []*ProofRunner{
		NewProofRunner(port.NewStrategyEngine(), verifier, vcs, builder, dataDir).WithCheckoutLocks(locks),
		NewProofRunner(port.NewStrategyEngine(), verifier, vcs, builder, dataDir).WithCheckoutLocks(locks),
	}

	x := domain.Sorry{ID: "second", Repo: domain.RepoInfo{Remote: remoteURL, Branch: "main", Commit: "cafe"}, Location: secondSorry()}
	var wg sync.WaitGroup
	results := make([]domain.VerifyResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = runners[i%2].VerifySorry(context.Background(), x, "trivial")
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].OK, results[i].Reason)
	}
	assert.False(t, builder.overlap.Load(), "work in one checkout must not overlap")
}
