package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) VerifySorry(_ context.Context, x domain.Sorry, proof string) (domain.VerifyResult, error) {
	if f.err != nil {
		return domain.VerifyResult{}, f.err
	}
	if proof == "rfl" {
		return domain.Verified(), nil
	}
	return domain.Rejected(domain.FailureBuild, "unknown tactic "+proof), nil
}

type blockingUpdater struct {
	release chan struct{}
	mu      sync.Mutex
	calls   []service.UpdateOptions
}

func (u *blockingUpdater) Update(ctx context.Context, opts service.UpdateOptions) (domain.UpdateReport, error) {
	u.mu.Lock()
	u.calls = append(u.calls, opts)
	u.mu.Unlock()
	select {
	case <-u.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	rr := domain.NewRepoReport(time.Now())
	rr.Finish(time.Now(), domain.RepoStatusSkipped, "")
	return domain.UpdateReport{"https://github.com/a/b": rr}, nil
}

type testServer struct {
	app      *fiber.App
	store    *store.JSONStore
	tracker  *JobTracker
	updater  *blockingUpdater
	verifier *fakeVerifier
	sorries  []domain.Sorry
}

func sorryAt(remote, commit, file string, line int, goal string) domain.Sorry {
	return domain.NewSorry(
		domain.RepoInfo{Remote: remote, Branch: "main", Commit: commit, LeanVersion: "v4.9.0"},
		domain.Location{File: file, StartLine: line, StartColumn: 2, EndLine: line, EndColumn: 7},
		domain.DebugInfo{Goal: goal},
		domain.Metadata{BlameDate: time.Date(2024, 1, line, 0, 0, 0, 0, time.UTC)},
	)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := store.NewJSONStore(filepath.Join(t.TempDir(), "db.json"))
	visited := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutRepo(ctx, domain.Repository{RemoteURL: "https://github.com/a/b", LastTimeVisited: visited}))
	require.NoError(t, s.PutRepo(ctx, domain.Repository{RemoteURL: "https://github.com/c/d", LastTimeVisited: visited}))

	sorries := []domain.Sorry{
		sorryAt("https://github.com/a/b", "aaaa", "A.lean", 1, "⊢ 1 + 1 = 2"),
		sorryAt("https://github.com/a/b", "aaaa", "B.lean", 2, "⊢ True"),
		sorryAt("https://github.com/c/d", "cccc", "A.lean", 3, "⊢ 1 + 1 = 2"),
	}
	for _, x := range sorries {
		_, err := s.PutSorry(ctx, x)
		require.NoError(t, err)
	}

	tracker := NewJobTracker(ctx)
	updater := &blockingUpdater{release: make(chan struct{})}
	verifier := &fakeVerifier{}

	app := fiber.New()
	api := app.Group("/api/v1")
	NewSorryHandler(s, service.NewDedupService(s)).Register(api)
	NewActionsHandler(s, tracker, verifier, updater, service.UpdateOptions{Workers: 2}).Register(api)
	NewJobsHandler(tracker).Register(api)

	t.Cleanup(func() {
		cancel()
		tracker.Wait()
	})
	return &testServer{app: app, store: s, tracker: tracker, updater: updater, verifier: verifier, sorries: sorries}
}

func (ts *testServer) do(t *testing.T, method, target, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (ts *testServer) waitJob(t *testing.T, id string) *JobStatus {
	t.Helper()
	var job *JobStatus
	require.Eventually(t, func() bool {
		j, ok := ts.tracker.GetJob(id)
		if !ok || !j.done() {
			return false
		}
		job = j
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSorryHandler_ReposAndStats(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/v1/repos", "")
	require.Equal(t, http.StatusOK, code)
	var repos struct {
		Repos []domain.Repository `json:"repos"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &repos))
	assert.Equal(t, 2, repos.Count)
	assert.Equal(t, "https://github.com/a/b", repos.Repos[0].RemoteURL)

	code, body = ts.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Repos         int         `json:"repos"`
		Sorries       int         `json:"sorries"`
		DistinctGoals int         `json:"distinct_goals"`
		PerRepo       []repoStats `json:"per_repo"`
	}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Repos)
	assert.Equal(t, 3, stats.Sorries)
	assert.Equal(t, 2, stats.DistinctGoals)
	require.Len(t, stats.PerRepo, 2)
	assert.Equal(t, 2, stats.PerRepo[0].Sorries)
	assert.Equal(t, 1, stats.PerRepo[1].Sorries)
}

func TestSorryHandler_ListSorries(t *testing.T) {
	ts := newTestServer(t)

	type page struct {
		Sorries []domain.Sorry `json:"sorries"`
		Count   int            `json:"count"`
		Total   int            `json:"total"`
	}
	tests := []struct {
		name  string
		query string
		ids   []string
		total int
	}{
		{"all", "", []string{ts.sorries[0].ID, ts.sorries[1].ID, ts.sorries[2].ID}, 3},
		{"by repo", "?repo=https://github.com/c/d", []string{ts.sorries[2].ID}, 1},
		{"by file", "?file=A.lean", []string{ts.sorries[0].ID, ts.sorries[2].ID}, 2},
		{"by goal", "?goal=True", []string{ts.sorries[1].ID}, 1},
		{"by commit", "?commit=aaaa", []string{ts.sorries[0].ID, ts.sorries[1].ID}, 2},
		{"paged", "?limit=1&offset=1", []string{ts.sorries[1].ID}, 3},
		{"past the end", "?offset=10", nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodGet, "/api/v1/sorries"+tt.query, "")
			require.Equal(t, http.StatusOK, code, string(body))
			var p page
			require.NoError(t, json.Unmarshal(body, &p))
			var ids []string
			for _, x := range p.Sorries {
				ids = append(ids, x.ID)
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, len(tt.ids), p.Count)
			assert.Equal(t, tt.total, p.Total)
		})
	}

	for _, q := range []string{"?limit=0", "?limit=x", "?offset=-1"} {
		code, _ := ts.do(t, http.MethodGet, "/api/v1/sorries"+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestSorryHandler_GetAndDeduplicated(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/v1/sorries/"+ts.sorries[1].ID, "")
	require.Equal(t, http.StatusOK, code)
	var x domain.Sorry
	require.NoError(t, json.Unmarshal(body, &x))
	assert.Equal(t, ts.sorries[1].ID, x.ID)
	assert.Equal(t, "⊢ True", x.DebugInfo.Goal)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/sorries/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, http.MethodGet, "/api/v1/sorries/deduplicated", "")
	require.Equal(t, http.StatusOK, code)
	var doc service.DedupDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Len(t, doc.Sorries, 2)
	assert.NotEmpty(t, doc.Documentation)

	code, body = ts.do(t, http.MethodGet, "/api/v1/sorries/deduplicated?max=1", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Len(t, doc.Sorries, 1)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/sorries/deduplicated?max=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActionsHandler_Verify(t *testing.T) {
	ts := newTestServer(t)

	start := func(proof string) string {
		code, body := ts.do(t, http.MethodPost, "/api/v1/verify",
			`{"sorry_id":"`+ts.sorries[0].ID+`","proof":"`+proof+`"}`)
		require.Equal(t, http.StatusAccepted, code, string(body))
		var resp struct {
			JobID string `json:"job_id"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		require.NotEmpty(t, resp.JobID)
		return resp.JobID
	}

	job := ts.waitJob(t, start("rfl"))
	assert.Equal(t, JobComplete, job.Status)
	assert.Equal(t, JobVerify, job.Kind)
	assert.Equal(t, ts.sorries[0].ID, job.Subject)
	assert.Equal(t, domain.Verified(), job.Result)

	job = ts.waitJob(t, start("simp"))
	assert.Equal(t, JobComplete, job.Status)
	res, ok := job.Result.(domain.VerifyResult)
	require.True(t, ok)
	assert.False(t, res.OK)
	assert.Equal(t, domain.FailureBuild, res.Kind)

	ts.verifier.err = errors.New("git clone: exit status 128")
	job = ts.waitJob(t, start("rfl"))
	assert.Equal(t, JobError, job.Status)
	assert.Contains(t, job.Error, "git clone")

	code, _ := ts.do(t, http.MethodPost, "/api/v1/verify", `{"sorry_id":"nope","proof":"rfl"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodPost, "/api/v1/verify", `{"sorry_id":"`+ts.sorries[0].ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(t, http.MethodPost, "/api/v1/verify", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActionsHandler_UpdateIsExclusive(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/v1/update", `{"workers":4}`)
	require.Equal(t, http.StatusAccepted, code, string(body))
	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))

	code, _ = ts.do(t, http.MethodPost, "/api/v1/update", "")
	assert.Equal(t, http.StatusConflict, code)

	close(ts.updater.release)
	job := ts.waitJob(t, resp.JobID)
	assert.Equal(t, JobComplete, job.Status)
	report, ok := job.Result.(domain.UpdateReport)
	require.True(t, ok)
	assert.Contains(t, report, "https://github.com/a/b")

	code, _ = ts.do(t, http.MethodPost, "/api/v1/update", "")
	assert.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		ts.updater.mu.Lock()
		defer ts.updater.mu.Unlock()
		return len(ts.updater.calls) == 2
	}, 5*time.Second, 10*time.Millisecond)

	ts.updater.mu.Lock()
	defer ts.updater.mu.Unlock()
	assert.Equal(t, 4, ts.updater.calls[0].Workers)
	assert.Equal(t, 2, ts.updater.calls[1].Workers, "defaults apply without a body")
}

func TestJobsHandler(t *testing.T) {
	ts := newTestServer(t)

	id, err := ts.tracker.Start(JobVerify, "x", false, func(context.Context) (any, error) {
		return domain.Verified(), nil
	})
	require.NoError(t, err)
	ts.waitJob(t, id)

	code, body := ts.do(t, http.MethodGet, "/api/v1/jobs/"+id, "")
	require.Equal(t, http.StatusOK, code)
	var job JobStatus
	require.NoError(t, json.Unmarshal(body, &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobComplete, job.Status)
	assert.False(t, job.CompletedAt.IsZero())

	code, body = ts.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/stream", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(string(body), "event: complete\ndata: {"), string(body))

	code, _ = ts.do(t, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodGet, "/api/v1/jobs/missing/stream", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJobTracker_SubscribeReceivesCompletion(t *testing.T) {
	tracker := NewJobTracker(context.Background())
	release := make(chan struct{})
	id, err := tracker.Start(JobUpdate, "", true, func(context.Context) (any, error) {
		<-release
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	ch, snapshot, ok := tracker.Subscribe(id)
	require.True(t, ok)
	assert.Equal(t, JobRunning, snapshot.Status)

	_, err = tracker.Start(JobUpdate, "", true, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, port.ErrJobRunning)

	close(release)
	select {
	case final := <-ch:
		assert.Equal(t, JobError, final.Status)
		assert.Equal(t, "boom", final.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
	tracker.Unsubscribe(id, ch)
	tracker.Wait()

	_, _, ok = tracker.Subscribe("missing")
	assert.False(t, ok)
}

func TestActionsHandler_Guard(t *testing.T) {
	ts := newTestServer(t)
	deny := func(c fiber.Ctx) error {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
	}
	app := fiber.New()
	NewActionsHandler(ts.store, ts.tracker, ts.verifier, nil, service.UpdateOptions{}).Guard(deny).Register(app)
	ts.app = app

	code, _ := ts.do(t, http.MethodPost, "/verify", `{"sorry_id":"`+ts.sorries[0].ID+`","proof":"rfl"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPost, "/update", "")
	assert.Equal(t, http.StatusNotFound, code, "no updater, no route")
}
