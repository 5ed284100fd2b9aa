// Package repomanager provides a concrete RepositoryManager for SQLite,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/migrations"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/categories"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/snippets"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/tags"
)

// SQLiteRepositoryManager vends SQLite-backed repository implementations
// and exposes a schema migration hook.
type SQLiteRepositoryManager struct{}

// NewSQLiteRepositoryManager constructs a SQLite-backed RepositoryManager.
func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) History(db dbx.DBTX) history.Repository {
	return history.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Snippets(db dbx.DBTX) snippets.Repository {
	return snippets.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Categories(db dbx.DBTX) categories.Repository {
	return categories.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Tags(db dbx.DBTX) tags.Repository {
	return tags.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// migrateUp is a seam for testing migrations.Up.
var migrateUp = migrations.Up

// RunMigrations applies the embedded migrations to db.
func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrateUp(ctx, db)
}
