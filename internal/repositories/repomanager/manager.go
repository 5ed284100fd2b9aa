package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/categories"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/snippets"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/tags"
)

// RepositoryManager vends repositories bound to a DBTX, so the same
// constructors serve plain reads on *sql.DB and writes inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	History(db dbx.DBTX) history.Repository
	Snippets(db dbx.DBTX) snippets.Repository
	Categories(db dbx.DBTX) categories.Repository
	Tags(db dbx.DBTX) tags.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}
