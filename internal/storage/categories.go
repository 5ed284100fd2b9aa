package storage

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalid("category name is required")
	}
	return s.tx(ctx, "create category", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Categories(tx).Create(ctx, c)
	})
}

func (s *Store) UpdateCategory(ctx context.Context, c *models.Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalid("category name is required")
	}
	return s.tx(ctx, "update category", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Categories(tx).Update(ctx, c)
	})
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	c, err := s.repos.Categories(s.db).GetByID(ctx, id)
	return c, wrapErr("get category", err)
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	list, err := s.repos.Categories(s.db).List(ctx)
	return list, wrapErr("list categories", err)
}

// DeleteCategory removes a category together with its snippets. Snippets
// are deleted explicitly so their index rows and tag links go too.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	return s.tx(ctx, "delete category", func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Categories(tx).GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.repos.Snippets(tx).DeleteByCategory(ctx, id); err != nil {
			return err
		}
		return s.repos.Categories(tx).Delete(ctx, id)
	})
}
