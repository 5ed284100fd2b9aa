// Package tags persists tags and their links to history entries and snippets.
// Links are removed by triggers when the tagged item is deleted.
package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

type Repository interface {
	// Ensure returns the tag with the given name, creating it if needed.
	Ensure(ctx context.Context, name string) (*models.Tag, error)
	List(ctx context.Context) ([]models.Tag, error)
	Delete(ctx context.Context, name string) error
	Link(ctx context.Context, tagID, itemID int64, itemType models.ItemType) error
	Unlink(ctx context.Context, tagID, itemID int64, itemType models.ItemType) error
	For(ctx context.Context, itemID int64, itemType models.ItemType) ([]string, error)
	GetByName(ctx context.Context, name string) (*models.Tag, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*models.Tag, error) {
	var t models.Tag
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = ?`, name).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag %q: %w", name, err)
	}
	return &t, nil
}

func (r *SQLiteRepository) Ensure(ctx context.Context, name string) (*models.Tag, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	return r.GetByName(ctx, name)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete tag %q: %w", name, err)
	}
	if ra, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Link(ctx context.Context, tagID, itemID int64, itemType models.ItemType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_tags (tag_id, item_id, item_type) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`, tagID, itemID, string(itemType))
	if err != nil {
		return fmt.Errorf("failed to link tag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Unlink(ctx context.Context, tagID, itemID int64, itemType models.ItemType) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM item_tags WHERE tag_id = ? AND item_id = ? AND item_type = ?`,
		tagID, itemID, string(itemType))
	if err != nil {
		return fmt.Errorf("failed to unlink tag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) For(ctx context.Context, itemID int64, itemType models.ItemType) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN item_tags it ON it.tag_id = t.id
		WHERE it.item_id = ? AND it.item_type = ?
		ORDER BY t.name`, itemID, string(itemType))
	if err != nil {
		return nil, fmt.Errorf("failed to select item tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan item tag: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item tags: %w", err)
	}
	return names, nil
}
