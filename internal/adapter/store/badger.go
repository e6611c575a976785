package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// Key layout:
//
//	repo:<url>         -> Repository JSON
//	repoorder:<seq>    -> url
//	sorry:<id>         -> Sorry JSON
//	order:<seq>        -> id
//
// seq is a big-endian uint64, so prefix iteration yields insertion order.
const (
	prefixRepo      = "repo:"
	prefixRepoOrder = "repoorder:"
	prefixSorry     = "sorry:"
	prefixOrder     = "order:"
	seqKey          = "!seq"
)

// BadgerConfig holds configuration for the embedded key-value backend.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists the database in an embedded BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	seq      *badger.Sequence
	inMemory bool

	writeMu sync.Mutex // check-then-insert in PutSorry/PutRepo
}

// NewBadgerStore opens the database described by cfg.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 1000)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, inMemory: cfg.InMemory}, nil
}

func orderKey(prefix string, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// --- Repos ---

func (s *BadgerStore) ListRepos(ctx context.Context) ([]domain.Repository, error) {
	var out []domain.Repository
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanOrder(ctx, txn, prefixRepoOrder, prefixRepo, func(val []byte) error {
			var r domain.Repository
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) GetRepo(_ context.Context, url string) (*domain.Repository, error) {
	var r domain.Repository
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixRepo+url), &r)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, port.ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	return &r, nil
}

func (s *BadgerStore) PutRepo(_ context.Context, repo domain.Repository) error {
	data, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("encode repo: %w", err)
	}
	key := []byte(prefixRepo + repo.RemoteURL)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			n, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			if err := txn.Set(orderKey(prefixRepoOrder, n), []byte(repo.RemoteURL)); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		return txn.Set(key, data)
	})
}

// --- Sorries ---

func (s *BadgerStore) GetSorry(_ context.Context, id string) (*domain.Sorry, error) {
	var sorry domain.Sorry
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixSorry+id), &sorry)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, port.ErrSorryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sorry: %w", err)
	}
	return &sorry, nil
}

func (s *BadgerStore) PutSorry(_ context.Context, sorry domain.Sorry) (bool, error) {
	data, err := json.Marshal(sorry)
	if err != nil {
		return false, fmt.Errorf("encode sorry: %w", err)
	}
	key := []byte(prefixSorry + sorry.ID)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	inserted := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		if err := txn.Set(orderKey(prefixOrder, n), []byte(sorry.ID)); err != nil {
			return err
		}
		inserted = true
		return txn.Set(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("put sorry: %w", err)
	}
	return inserted, nil
}

func (s *BadgerStore) IterateSorries(ctx context.Context, fn func(domain.Sorry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.scanOrder(ctx, txn, prefixOrder, prefixSorry, func(val []byte) error {
			var sorry domain.Sorry
			if err := json.Unmarshal(val, &sorry); err != nil {
				return fmt.Errorf("decode sorry: %w", err)
			}
			return fn(sorry)
		})
	})
}

// scanOrder walks an order index and resolves every entry to its record.
func (s *BadgerStore) scanOrder(ctx context.Context, txn *badger.Txn, orderPrefix, recordPrefix string, fn func([]byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(orderPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(append([]byte(recordPrefix), ref...))
		if err != nil {
			return fmt.Errorf("dangling index entry %q: %w", ref, err)
		}
		if err := item.Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// Flush syncs the value log to disk.
func (s *BadgerStore) Flush(_ context.Context) error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		slog.Warn("release badger sequence", "error", err)
	}
	return s.db.Close()
}
