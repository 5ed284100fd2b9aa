// Package storage is the persistence layer of the engine. Every exported
// operation runs in a single SQLite transaction over the table
// repositories, so a base row and its trigger-maintained index row are
// committed or rolled back together.
//
// Masked snippet content is encrypted through a Cipher before it reaches a
// repository and is decrypted only on an explicit reveal.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/repomanager"
)

// Cipher seals masked snippet content. *vault.Vault implements it.
type Cipher interface {
	Encrypt(plaintext, aad []byte) (models.Sealed, error)
	Decrypt(s models.Sealed, aad []byte) ([]byte, error)
}

type Store struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	cipher Cipher
	logger logging.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRepositoryManager replaces the SQLite repository manager.
func WithRepositoryManager(m repomanager.RepositoryManager) Option {
	return func(s *Store) { s.repos = m }
}

// New wraps an already migrated database.
func New(db *sql.DB, cipher Cipher, l logging.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		repos:  repomanager.NewSQLiteRepositoryManager(),
		cipher: cipher,
		logger: l.With("module", "storage"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenDB opens the database at path and applies pending migrations.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := dbx.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	if err := repomanager.NewSQLiteRepositoryManager().RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	return db, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// passthrough lists errors that keep their own identity instead of being
// reported as storage failures.
var passthrough = []error{
	common.ErrNotFound,
	common.ErrInvalidCommand,
	common.ErrVaultLocked,
	common.ErrAuthenticationFailure,
	context.Canceled,
	context.DeadlineExceeded,
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, p := range passthrough {
		if errors.Is(err, p) {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w: %w", op, common.ErrStorage, err)
}

func (s *Store) tx(ctx context.Context, op string, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return wrapErr(op, dbx.WithTxRetry(ctx, s.db, fn))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// CheckIndex returns how many rows of both indexes disagree with their base
// tables, including masked snippets whose content leaked into the index.
func (s *Store) CheckIndex(ctx context.Context) (int, error) {
	var drift int
	err := s.tx(ctx, "check search index", func(ctx context.Context, tx dbx.DBTX) error {
		h, err := s.repos.History(tx).IndexDrift(ctx)
		if err != nil {
			return err
		}
		sn, err := s.repos.Snippets(tx).IndexDrift(ctx)
		if err != nil {
			return err
		}
		drift = h + sn
		return nil
	})
	return drift, err
}

// RebuildIndex recreates both indexes from the base tables.
func (s *Store) RebuildIndex(ctx context.Context) error {
	return s.tx(ctx, "rebuild search index", func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.History(tx).Reindex(ctx); err != nil {
			return err
		}
		return s.repos.Snippets(tx).Reindex(ctx)
	})
}
