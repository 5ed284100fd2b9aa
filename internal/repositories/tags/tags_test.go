package tags

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/migrations"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, db))
	return db
}

func TestEnsure_IsIdempotentAndCaseInsensitive(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a, err := r.Ensure(ctx, "work")
	require.NoError(t, err)
	b, err := r.Ensure(ctx, "WORK")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLinkUnlinkFor(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	work, err := r.Ensure(ctx, "work")
	require.NoError(t, err)
	urgent, err := r.Ensure(ctx, "urgent")
	require.NoError(t, err)

	require.NoError(t, r.Link(ctx, work.ID, 7, models.ItemHistory))
	require.NoError(t, r.Link(ctx, work.ID, 7, models.ItemHistory)) // duplicate ignored
	require.NoError(t, r.Link(ctx, urgent.ID, 7, models.ItemHistory))
	require.NoError(t, r.Link(ctx, urgent.ID, 7, models.ItemSnippet))

	names, err := r.For(ctx, 7, models.ItemHistory)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "work"}, names)

	require.NoError(t, r.Unlink(ctx, urgent.ID, 7, models.ItemHistory))
	names, err = r.For(ctx, 7, models.ItemHistory)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, names)
}

func TestLinksRemovedWithItem(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	res, err := db.Exec(`INSERT INTO history(kind, content, content_hash, created_at) VALUES (1, 'x', 'h', 1)`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	tag, err := r.Ensure(ctx, "tmp")
	require.NoError(t, err)
	require.NoError(t, r.Link(ctx, tag.ID, id, models.ItemHistory))

	_, err = db.Exec(`DELETE FROM history WHERE id = ?`, id)
	require.NoError(t, err)

	names, err := r.For(ctx, id, models.ItemHistory)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Ensure(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, "gone"))
	assert.ErrorIs(t, r.Delete(ctx, "gone"), common.ErrNotFound)
	_, err = r.GetByName(ctx, "gone")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
