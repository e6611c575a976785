package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// JSONStore keeps the whole database in memory and persists it as one JSON
// document. Flush writes a new file and renames it over the old one, so a
// crash never leaves a half-written database behind.
type JSONStore struct {
	path string

	mu       sync.RWMutex
	readOnly bool
	repos    []domain.Repository
	repoIdx  map[string]int
	sorries  []domain.Sorry
	sorryIdx map[string]int
}

// NewJSONStore returns an empty store that will be written to path.
func NewJSONStore(path string) *JSONStore {
	s := &JSONStore{path: path}
	s.reset(domain.Database{})
	return s
}

// OpenJSONStore loads an existing database file.
func OpenJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetReadOnly makes every later write fail with port.ErrReadOnly. Used when
// another process owns the file.
func (s *JSONStore) SetReadOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = true
}

// Path returns the backing file.
func (s *JSONStore) Path() string {
	return s.path
}

// Reload replaces the in-memory state with the file contents.
func (s *JSONStore) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s: %w", s.path, err)
		}
		return fmt.Errorf("open database: %w", err)
	}
	defer f.Close()

	var db domain.Database
	if err := json.NewDecoder(f).Decode(&db); err != nil {
		return fmt.Errorf("invalid JSON in database file %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(db)
	slog.Debug("loaded database", "path", s.path, "repos", len(s.repos), "sorries", len(s.sorries))
	return nil
}

func (s *JSONStore) reset(db domain.Database) {
	s.repos = db.Repos
	s.sorries = db.Sorries
	s.repoIdx = make(map[string]int, len(db.Repos))
	s.sorryIdx = make(map[string]int, len(db.Sorries))
	for i, r := range s.repos {
		s.repoIdx[r.RemoteURL] = i
	}
	for i := range s.sorries {
		if s.sorries[i].ID == "" {
			s.sorries[i].ID = s.sorries[i].ComputeID()
		}
		if _, seen := s.sorryIdx[s.sorries[i].ID]; !seen {
			s.sorryIdx[s.sorries[i].ID] = i
		}
	}
}

// --- Repos ---

func (s *JSONStore) ListRepos(_ context.Context) ([]domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Repository(nil), s.repos...), nil
}

func (s *JSONStore) GetRepo(_ context.Context, url string) (*domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.repoIdx[url]
	if !ok {
		return nil, port.ErrRepoNotFound
	}
	r := s.repos[i]
	return &r, nil
}

func (s *JSONStore) PutRepo(_ context.Context, repo domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return port.ErrReadOnly
	}
	if i, ok := s.repoIdx[repo.RemoteURL]; ok {
		s.repos[i] = repo
		return nil
	}
	s.repoIdx[repo.RemoteURL] = len(s.repos)
	s.repos = append(s.repos, repo)
	return nil
}

// --- Sorries ---

func (s *JSONStore) GetSorry(_ context.Context, id string) (*domain.Sorry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.sorryIdx[id]
	if !ok {
		return nil, port.ErrSorryNotFound
	}
	sorry := s.sorries[i]
	return &sorry, nil
}

func (s *JSONStore) PutSorry(_ context.Context, sorry domain.Sorry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return false, port.ErrReadOnly
	}
	if _, ok := s.sorryIdx[sorry.ID]; ok {
		return false, nil
	}
	s.sorryIdx[sorry.ID] = len(s.sorries)
	s.sorries = append(s.sorries, sorry)
	return true, nil
}

func (s *JSONStore) IterateSorries(ctx context.Context, fn func(domain.Sorry) error) error {
	s.mu.RLock()
	snapshot := s.sorries[:len(s.sorries):len(s.sorries)]
	s.mu.RUnlock()

	for _, sorry := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(sorry); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the database atomically.
func (s *JSONStore) Flush(_ context.Context) error {
	s.mu.RLock()
	if s.readOnly {
		s.mu.RUnlock()
		return port.ErrReadOnly
	}
	db := domain.Database{Repos: s.repos, Sorries: s.sorries}
	if db.Repos == nil {
		db.Repos = []domain.Repository{}
	}
	if db.Sorries == nil {
		db.Sorries = []domain.Sorry{}
	}
	err := WriteJSONAtomic(s.path, db)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	slog.Debug("database written", "path", s.path, "repos", len(db.Repos), "sorries", len(db.Sorries))
	return nil
}

// Close is a no-op; call Flush to persist.
func (s *JSONStore) Close() error {
	return nil
}

// WriteJSONAtomic encodes v as indented JSON into a temp file next to path,
// fsyncs it and renames it over path.
func WriteJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
