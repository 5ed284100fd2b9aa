// Package categories persists snippet categories.
package categories

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
	Create(ctx context.Context, c *models.Category) error
	Update(ctx context.Context, c *models.Category) error
	GetByID(ctx context.Context, id int64) (*models.Category, error)
	List(ctx context.Context) ([]models.Category, error)
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, c *models.Category) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name, icon, sort_order, locked) VALUES (?, ?, ?, ?)`,
		c.Name, c.Icon, c.SortOrder, c.Locked)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get category id: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, c *models.Category) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, icon = ?, sort_order = ?, locked = ? WHERE id = ?`,
		c.Name, c.Icon, c.SortOrder, c.Locked, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	if ra, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, icon, sort_order, locked FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Icon, &c.SortOrder, &c.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, icon, sort_order, locked FROM categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select categories: %w", err)
	}
	defer rows.Close()

	var result []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.SortOrder, &c.Locked); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category rows: %w", err)
	}
	return result, nil
}

// Delete removes the category row. Callers delete the category's snippets
// first in the same transaction so their index rows go with them.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if ra, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
