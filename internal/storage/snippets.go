package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// hide strips content and ciphertext of a masked snippet.
func hide(sn *models.Snippet) {
	if sn.Masked {
		sn.Content = ""
	}
	sn.Sealed = models.Sealed{}
}

// snippetAAD binds a sealed secret to the snippet row it was written for.
func snippetAAD(id int64) []byte {
	return []byte(common.AppName + "/snippet/" + strconv.FormatInt(id, 10))
}

func (s *Store) seal(id int64, plaintext string) (models.Sealed, error) {
	if s.cipher == nil {
		return models.Sealed{}, common.ErrVaultLocked
	}
	return s.cipher.Encrypt([]byte(plaintext), snippetAAD(id))
}

func (s *Store) open(id int64, sealed models.Sealed) ([]byte, error) {
	if s.cipher == nil {
		return nil, common.ErrVaultLocked
	}
	return s.cipher.Decrypt(sealed, snippetAAD(id))
}

// UpsertSnippet creates sn (ID 0) or replaces an existing snippet. Masked
// content is sealed before it is stored; a masked update with empty content
// keeps the previous ciphertext, and unmasking with empty content keeps the
// previous secret as plaintext. On return sn carries no plaintext when
// masked.
func (s *Store) UpsertSnippet(ctx context.Context, sn *models.Snippet) error {
	sn.Title = strings.TrimSpace(sn.Title)
	if sn.Title == "" {
		return invalid("snippet title is required")
	}
	if sn.CategoryID == 0 {
		return invalid("snippet category is required")
	}

	// an existing row is sealed before the transaction; a new one needs its id
	var sealed models.Sealed
	if sn.Masked && sn.Content != "" && sn.ID != 0 {
		var err error
		if sealed, err = s.seal(sn.ID, sn.Content); err != nil {
			return wrapErr("seal snippet", err)
		}
	}

	err := s.tx(ctx, "save snippet", func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Categories(tx).GetByID(ctx, sn.CategoryID); err != nil {
			if isNotFound(err) {
				return invalid("category %d does not exist", sn.CategoryID)
			}
			return err
		}

		repo := s.repos.Snippets(tx)
		row := *sn
		row.Sealed = sealed
		row.UpdatedAt = s.now()

		if sn.ID == 0 {
			if sn.Masked && sn.Content == "" {
				return invalid("masked snippet needs content")
			}
			if sn.Masked {
				// inserted plain and empty, then sealed under the new id
				row.Masked, row.Content = false, ""
			}
			if err := repo.Create(ctx, &row); err != nil {
				return err
			}
			if sn.Masked {
				var err error
				if row.Sealed, err = s.seal(row.ID, sn.Content); err != nil {
					return err
				}
				row.Masked = true
				if err := repo.Update(ctx, &row); err != nil {
					return err
				}
			}
		} else {
			prev, err := repo.GetByID(ctx, sn.ID)
			if err != nil {
				return err
			}
			if sn.Masked && sealed.Empty() {
				if !prev.Masked {
					// masking an existing snippet without new content
					return invalid("masked snippet needs content")
				}
				row.Sealed = prev.Sealed
			}
			if !sn.Masked && prev.Masked && sn.Content == "" {
				plain, err := s.open(sn.ID, prev.Sealed)
				if err != nil {
					return err
				}
				row.Content = string(plain)
			}
			row.UsageCount = prev.UsageCount
			if err := repo.Update(ctx, &row); err != nil {
				return err
			}
		}

		*sn = row
		return nil
	})
	if err != nil {
		return err
	}

	hide(sn)
	return nil
}

// GetSnippet returns a snippet. Masked content is decrypted only when reveal
// is set; otherwise it comes back empty.
func (s *Store) GetSnippet(ctx context.Context, id int64, reveal bool) (*models.Snippet, error) {
	sn, err := s.repos.Snippets(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, wrapErr("get snippet", err)
	}

	if sn.Masked && reveal {
		plain, err := s.open(id, sn.Sealed)
		if err != nil {
			return nil, wrapErr("reveal snippet", err)
		}
		sn.Content = string(plain)
		sn.Sealed = models.Sealed{}
		return sn, nil
	}

	hide(sn)
	return sn, nil
}

// ListSnippets lists snippets of a category (0 = all). Masked content is
// never included.
func (s *Store) ListSnippets(ctx context.Context, categoryID int64, includeLocked bool) ([]models.Snippet, error) {
	list, err := s.repos.Snippets(s.db).List(ctx, categoryID, includeLocked)
	if err != nil {
		return nil, wrapErr("list snippets", err)
	}
	for i := range list {
		hide(&list[i])
	}
	return list, nil
}

func (s *Store) IncrementUsage(ctx context.Context, id int64) error {
	return s.tx(ctx, "increment snippet usage", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Snippets(tx).IncrementUsage(ctx, id)
	})
}

func (s *Store) DeleteSnippet(ctx context.Context, id int64) error {
	return s.tx(ctx, "delete snippet", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Snippets(tx).Delete(ctx, id)
	})
}
