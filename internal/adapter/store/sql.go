package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// sqlStore implements port.SorryStore over database/sql. Queries are written
// with "?" placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	numbered bool // $1, $2, ... placeholders
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

// Flush is a no-op: every statement is committed as it runs.
func (s *sqlStore) Flush(_ context.Context) error {
	return nil
}

// --- Repos ---

func (s *sqlStore) ListRepos(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT remote_url, last_time_visited, remote_heads_hash FROM repos ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

func (s *sqlStore) GetRepo(ctx context.Context, url string) (*domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT remote_url, last_time_visited, remote_heads_hash FROM repos WHERE remote_url = ?`), url)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRepoNotFound
	}
	return r, err
}

func (s *sqlStore) PutRepo(ctx context.Context, r domain.Repository) error {
	query := `
		INSERT INTO repos (remote_url, last_time_visited, remote_heads_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (remote_url) DO UPDATE SET
			last_time_visited = EXCLUDED.last_time_visited,
			remote_heads_hash = EXCLUDED.remote_heads_hash`

	var hash sql.NullString
	if r.RemoteHeadsHash != nil {
		hash = sql.NullString{String: *r.RemoteHeadsHash, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), r.RemoteURL, r.LastTimeVisited.UTC(), hash); err != nil {
		return fmt.Errorf("put repo: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*domain.Repository, error) {
	var (
		r    domain.Repository
		hash sql.NullString
	)
	if err := row.Scan(&r.RemoteURL, &r.LastTimeVisited, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan repo: %w", err)
	}
	if hash.Valid {
		h := hash.String
		r.RemoteHeadsHash = &h
	}
	r.LastTimeVisited = r.LastTimeVisited.UTC()
	return &r, nil
}

// --- Sorries ---

const sorryColumns = `id, remote, branch, commit_sha, lean_version,
	file, start_line, start_column, end_line, end_column,
	goal, url, blame_email_hash, blame_date, inclusion_date`

func (s *sqlStore) GetSorry(ctx context.Context, id string) (*domain.Sorry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sorryColumns+` FROM sorries WHERE id = ?`), id)
	sorry, err := scanSorry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrSorryNotFound
	}
	return sorry, err
}

func (s *sqlStore) PutSorry(ctx context.Context, x domain.Sorry) (bool, error) {
	query := `INSERT INTO sorries (` + sorryColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, s.q(query),
		x.ID, x.Repo.Remote, x.Repo.Branch, x.Repo.Commit, x.Repo.LeanVersion,
		x.Location.File, x.Location.StartLine, x.Location.StartColumn, x.Location.EndLine, x.Location.EndColumn,
		x.DebugInfo.Goal, x.DebugInfo.URL, x.Metadata.BlameEmailHash,
		x.Metadata.BlameDate.UTC(), x.Metadata.InclusionDate.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("put sorry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put sorry: %w", err)
	}
	return n > 0, nil
}

// IterateSorries streams rows; fn must not call back into the store, since
// SQLite runs on a single connection.
func (s *sqlStore) IterateSorries(ctx context.Context, fn func(domain.Sorry) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sorryColumns+` FROM sorries ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("list sorries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sorry, err := scanSorry(rows)
		if err != nil {
			return err
		}
		if err := fn(*sorry); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanSorry(row rowScanner) (*domain.Sorry, error) {
	var (
		x                    domain.Sorry
		blameDate, inclusion time.Time
	)
	err := row.Scan(
		&x.ID, &x.Repo.Remote, &x.Repo.Branch, &x.Repo.Commit, &x.Repo.LeanVersion,
		&x.Location.File, &x.Location.StartLine, &x.Location.StartColumn, &x.Location.EndLine, &x.Location.EndColumn,
		&x.DebugInfo.Goal, &x.DebugInfo.URL, &x.Metadata.BlameEmailHash,
		&blameDate, &inclusion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sorry: %w", err)
	}
	x.Metadata.BlameDate = blameDate.UTC()
	x.Metadata.InclusionDate = inclusion.UTC()
	return &x, nil
}
