package storage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
)

// Outcome tells what InsertHistory did with a captured entry.
type Outcome int

const (
	Inserted Outcome = iota + 1
	// Refreshed: an unpinned entry with the same hash moved to the top.
	Refreshed
	// PinnedKept: a pinned entry with the same hash was left untouched.
	PinnedKept
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	case PinnedKept:
		return "pinned-kept"
	default:
		return "unknown"
	}
}

const DefaultPageSize = 50

// Page is one slice of the history listing. Next is nil on the last page.
type Page struct {
	Items []models.HistoryEntry `json:"items"`
	Next  *history.Cursor       `json:"next,omitempty"`
}

// stamp returns a creation time strictly newer than every stored row, so a
// refreshed or new entry always sorts first even if the clock stalls.
func (s *Store) stamp(ctx context.Context, repo history.Repository) (time.Time, error) {
	now := s.now()
	latest, err := repo.LatestCreatedAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if now.UnixNano() <= latest {
		return time.Unix(0, latest+1), nil
	}
	return now, nil
}

// InsertHistory stores e unless an entry with the same content hash exists.
// On return e reflects the stored row.
func (s *Store) InsertHistory(ctx context.Context, e *models.HistoryEntry) (Outcome, error) {
	if !e.Kind.Valid() {
		return 0, invalid("unknown entry kind %d", e.Kind)
	}
	if e.ContentHash == "" {
		return 0, invalid("entry without content hash")
	}

	var outcome Outcome
	err := s.tx(ctx, "insert history entry", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.History(tx)

		existing, err := repo.GetByHash(ctx, e.ContentHash)
		switch {
		case err == nil && existing.Pinned:
			*e = *existing
			outcome = PinnedKept
			return nil
		case err == nil:
			at, err := s.stamp(ctx, repo)
			if err != nil {
				return err
			}
			if err := repo.Touch(ctx, existing.ID, at); err != nil {
				return err
			}
			existing.CreatedAt = at
			*e = *existing
			outcome = Refreshed
			return nil
		case !isNotFound(err):
			return err
		}

		at, err := s.stamp(ctx, repo)
		if err != nil {
			return err
		}
		e.CreatedAt = at
		e.Pinned = false
		if err := repo.Insert(ctx, e); err != nil {
			return err
		}
		outcome = Inserted
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*models.HistoryEntry, error) {
	e, err := s.repos.History(s.db).GetByHash(ctx, hash)
	return e, wrapErr("find history entry", err)
}

func (s *Store) GetHistory(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	e, err := s.repos.History(s.db).GetByID(ctx, id)
	return e, wrapErr("get history entry", err)
}

// ListRecent returns the page after the cursor (nil = first page), pinned
// entries first, then newest first.
func (s *Store) ListRecent(ctx context.Context, after *history.Cursor, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	items, err := s.repos.History(s.db).ListRecent(ctx, after, limit+1)
	if err != nil {
		return Page{}, wrapErr("list history", err)
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next := history.CursorOf(page.Items[limit-1])
		page.Next = &next
	}
	return page, nil
}

// TogglePinned flips the pinned flag and returns the updated entry.
func (s *Store) TogglePinned(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	var e *models.HistoryEntry
	err := s.tx(ctx, "toggle pin", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.History(tx)
		var err error
		if e, err = repo.GetByID(ctx, id); err != nil {
			return err
		}
		e.Pinned = !e.Pinned
		return repo.SetPinned(ctx, id, e.Pinned)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteHistory removes an entry and returns it so callers can drop its blob.
func (s *Store) DeleteHistory(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	var e *models.HistoryEntry
	err := s.tx(ctx, "delete history entry", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.History(tx)
		var err error
		if e, err = repo.GetByID(ctx, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EvictHistory deletes unpinned entries beyond the newest maxItems or older
// than maxAge and returns them. Zero disables the respective limit.
func (s *Store) EvictHistory(ctx context.Context, maxItems int, maxAge time.Duration) ([]models.HistoryEntry, error) {
	if maxItems <= 0 && maxAge <= 0 {
		return nil, nil
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.now().Add(-maxAge)
	}

	var evicted []models.HistoryEntry
	err := s.tx(ctx, "evict history", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.History(tx)
		victims, err := repo.ListEvictable(ctx, maxItems, cutoff)
		if err != nil {
			return err
		}
		for _, v := range victims {
			if err := repo.Delete(ctx, v.ID); err != nil {
				return err
			}
		}
		evicted = victims
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(evicted) > 0 {
		s.logger.Debug(ctx, "evicted history entries", "count", len(evicted))
	}
	return evicted, nil
}
