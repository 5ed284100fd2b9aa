package storage

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

func (s *Store) itemExists(ctx context.Context, tx dbx.DBTX, id int64, t models.ItemType) error {
	switch t {
	case models.ItemHistory:
		_, err := s.repos.History(tx).GetByID(ctx, id)
		return err
	case models.ItemSnippet:
		_, err := s.repos.Snippets(tx).GetByID(ctx, id)
		return err
	default:
		return invalid("unknown item type %q", t)
	}
}

// TagItem attaches tag name to an item, creating the tag when needed.
func (s *Store) TagItem(ctx context.Context, name string, itemID int64, t models.ItemType) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("tag name is required")
	}
	return s.tx(ctx, "tag item", func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.itemExists(ctx, tx, itemID, t); err != nil {
			return err
		}
		tag, err := s.repos.Tags(tx).Ensure(ctx, name)
		if err != nil {
			return err
		}
		return s.repos.Tags(tx).Link(ctx, tag.ID, itemID, t)
	})
}

func (s *Store) UntagItem(ctx context.Context, name string, itemID int64, t models.ItemType) error {
	return s.tx(ctx, "untag item", func(ctx context.Context, tx dbx.DBTX) error {
		tag, err := s.repos.Tags(tx).GetByName(ctx, strings.TrimSpace(name))
		if err != nil {
			return err
		}
		return s.repos.Tags(tx).Unlink(ctx, tag.ID, itemID, t)
	})
}

func (s *Store) TagsFor(ctx context.Context, itemID int64, t models.ItemType) ([]string, error) {
	names, err := s.repos.Tags(s.db).For(ctx, itemID, t)
	return names, wrapErr("list item tags", err)
}

func (s *Store) ListTags(ctx context.Context) ([]models.Tag, error) {
	list, err := s.repos.Tags(s.db).List(ctx)
	return list, wrapErr("list tags", err)
}

func (s *Store) DeleteTag(ctx context.Context, name string) error {
	return s.tx(ctx, "delete tag", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Tags(tx).Delete(ctx, strings.TrimSpace(name))
	})
}
