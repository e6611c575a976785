package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

func testSorry(remote, goal string, line int) domain.Sorry {
	return domain.NewSorry(
		domain.RepoInfo{Remote: remote, Branch: "main", Commit: "abc123", LeanVersion: "v4.17.0"},
		domain.Location{File: "Foo/Bar.lean", StartLine: line, StartColumn: 2, EndLine: line, EndColumn: 7},
		domain.DebugInfo{Goal: goal, URL: remote + "/Foo/Bar.lean"},
		domain.Metadata{
			BlameEmailHash: domain.HashString("dev@example.com"),
			BlameDate:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("+0200", 7200)),
			InclusionDate:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	)
}

// runStoreContract exercises the behavior every backend shares.
func runStoreContract(t *testing.T, s port.SorryStore) {
	ctx := context.Background()

	t.Run("repos", func(t *testing.T) {
		_, err := s.GetRepo(ctx, "https://example.com/a")
		assert.ErrorIs(t, err, port.ErrRepoNotFound)

		visited := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, s.PutRepo(ctx, domain.Repository{RemoteURL: "https://example.com/b", LastTimeVisited: visited}))
		require.NoError(t, s.PutRepo(ctx, domain.Repository{RemoteURL: "https://example.com/a", LastTimeVisited: visited}))

		hash := "0123456789ab"
		later := visited.Add(time.Hour)
		require.NoError(t, s.PutRepo(ctx, domain.Repository{RemoteURL: "https://example.com/b", LastTimeVisited: later, RemoteHeadsHash: &hash}))

		repos, err := s.ListRepos(ctx)
		require.NoError(t, err)
		require.Len(t, repos, 2)
		assert.Equal(t, "https://example.com/b", repos[0].RemoteURL)
		assert.Equal(t, "https://example.com/a", repos[1].RemoteURL)
		assert.True(t, later.Equal(repos[0].LastTimeVisited))
		require.NotNil(t, repos[0].RemoteHeadsHash)
		assert.Equal(t, hash, *repos[0].RemoteHeadsHash)
		assert.Nil(t, repos[1].RemoteHeadsHash)

		got, err := s.GetRepo(ctx, "https://example.com/a")
		require.NoError(t, err)
		assert.True(t, visited.Equal(got.LastTimeVisited))
	})

	t.Run("sorries", func(t *testing.T) {
		a := testSorry("https://example.com/a", "⊢ 1 + 1 = 2", 3)
		b := testSorry("https://example.com/a", "⊢ True", 9)

		_, err := s.GetSorry(ctx, a.ID)
		assert.ErrorIs(t, err, port.ErrSorryNotFound)

		inserted, err := s.PutSorry(ctx, a)
		require.NoError(t, err)
		assert.True(t, inserted)
		inserted, err = s.PutSorry(ctx, b)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.PutSorry(ctx, a)
		require.NoError(t, err)
		assert.False(t, inserted, "same ID must not be stored twice")

		got, err := s.GetSorry(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		// SQL backends return the blame date in UTC, so the stored ID is
		// kept rather than recomputed.
		assert.Equal(t, a.Repo, got.Repo)
		assert.Equal(t, a.Location, got.Location)
		assert.Equal(t, a.DebugInfo, got.DebugInfo)
		assert.Equal(t, a.Metadata.BlameEmailHash, got.Metadata.BlameEmailHash)
		assert.True(t, a.Metadata.BlameDate.Equal(got.Metadata.BlameDate))

		all, err := port.AllSorries(ctx, s)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.Equal(t, b.ID, all[1].ID)
	})

	t.Run("flush", func(t *testing.T) {
		require.NoError(t, s.Flush(ctx))
	})
}

func TestJSONStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "sorry_database.json")
	s := NewJSONStore(path)
	runStoreContract(t, s)

	reopened, err := OpenJSONStore(path)
	require.NoError(t, err)
	all, err := port.AllSorries(context.Background(), reopened)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "repos")
	assert.Contains(t, doc, "sorries")
}

func TestJSONStore_EmptyDocumentHasArrays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, NewJSONStore(path).Flush(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"repos": [], "sorries": []}`, string(raw))
}

func TestOpenJSONStore_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenJSONStore(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = OpenJSONStore(bad)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestWriteJSONAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]string{"a": "<b>"}))
	require.NoError(t, WriteJSONAtomic(path, map[string]string{"a": "c"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"c"}`, string(raw))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sorries.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.PutSorry(context.Background(), testSorry("r", "g", 1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	all, err := port.AllSorries(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	first := testSorry("r", "g1", 1)
	_, err = s.PutSorry(context.Background(), first)
	require.NoError(t, err)
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	second := testSorry("r", "g2", 2)
	_, err = s.PutSorry(context.Background(), second)
	require.NoError(t, err)

	all, err := port.AllSorries(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.DB().Exec("TRUNCATE repos, sorries")
	require.NoError(t, err)
	runStoreContract(t, s)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	t.Run("json create", func(t *testing.T) {
		s, err := Open(Options{Backend: BackendJSON, JSONPath: filepath.Join(dir, "new.json"), Create: true})
		require.NoError(t, err)
		assert.IsType(t, &JSONStore{}, s)
	})
	t.Run("json missing without create", func(t *testing.T) {
		_, err := Open(Options{JSONPath: filepath.Join(dir, "absent.json")})
		assert.Error(t, err)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(Options{Backend: BackendSQLite, SQLitePath: filepath.Join(dir, "x.db")})
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})
	t.Run("postgres without url", func(t *testing.T) {
		_, err := Open(Options{Backend: BackendPostgres})
		assert.Error(t, err)
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := Open(Options{Backend: "mongo"})
		assert.ErrorContains(t, err, "unknown store backend")
	})
}

func TestWatcher_ReloadsOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	writer := NewJSONStore(path)
	require.NoError(t, writer.Flush(context.Background()))

	reader, err := OpenJSONStore(path)
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(reader, 20*time.Millisecond, func(err error) { reloaded <- err })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err = writer.PutSorry(context.Background(), testSorry("r", "g", 1))
	require.NoError(t, err)
	require.NoError(t, writer.Flush(context.Background()))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	all, err := port.AllSorries(context.Background(), reader)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The watched copy never writes back over the owner's file.
	_, err = writer.PutSorry(context.Background(), testSorry("r", "g2", 2))
	require.NoError(t, err)
	require.NoError(t, writer.Flush(context.Background()))
	assert.ErrorIs(t, reader.Flush(context.Background()), port.ErrReadOnly)
	_, err = reader.PutSorry(context.Background(), testSorry("r", "g3", 3))
	assert.ErrorIs(t, err, port.ErrReadOnly)
	assert.ErrorIs(t, reader.PutRepo(context.Background(), domain.Repository{RemoteURL: "r"}), port.ErrReadOnly)

	onDisk, err := OpenJSONStore(path)
	require.NoError(t, err)
	all, err = port.AllSorries(context.Background(), onDisk)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
