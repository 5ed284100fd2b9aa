package history

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// Cursor is the keyset position of the last row of a page. Pages are
// ordered pinned first, then newest first, with the id as tie-breaker.
type Cursor struct {
	Pinned    bool  `json:"pinned"`
	CreatedAt int64 `json:"created_at"`
	ID        int64 `json:"id"`
}

// CursorOf returns the position just after e.
func CursorOf(e models.HistoryEntry) Cursor {
	return Cursor{Pinned: e.Pinned, CreatedAt: e.CreatedAt.UnixNano(), ID: e.ID}
}

// Hit is a full-text match with its bm25 rank (lower is better).
type Hit struct {
	Entry models.HistoryEntry
	Rank  float64
}

// Repository describes persistence of clipboard history rows. The search
// index is maintained by triggers, so every write here updates it in the
// same statement.
type Repository interface {
	// Insert stores e and sets e.ID.
	Insert(ctx context.Context, e *models.HistoryEntry) error

	// GetByID and GetByHash return common.ErrNotFound when nothing matches.
	GetByID(ctx context.Context, id int64) (*models.HistoryEntry, error)
	GetByHash(ctx context.Context, hash string) (*models.HistoryEntry, error)

	// Touch moves an entry to the given recency.
	Touch(ctx context.Context, id int64, at time.Time) error
	SetPinned(ctx context.Context, id int64, pinned bool) error
	Delete(ctx context.Context, id int64) error

	// ListRecent returns up to limit rows after the cursor (nil = first page).
	ListRecent(ctx context.Context, after *Cursor, limit int) ([]models.HistoryEntry, error)

	// Search runs an FTS5 MATCH expression against the history index.
	Search(ctx context.Context, match string, limit int) ([]Hit, error)

	// LatestCreatedAt returns the newest created_at in unix nanoseconds, 0 if empty.
	LatestCreatedAt(ctx context.Context) (int64, error)

	// ListEvictable returns unpinned rows beyond the newest keep unpinned
	// rows or created before cutoff. keep <= 0 disables the count limit and
	// a zero cutoff disables the age limit.
	ListEvictable(ctx context.Context, keep int, cutoff time.Time) ([]models.HistoryEntry, error)

	// IndexDrift counts rows present on only one side of base table and index.
	IndexDrift(ctx context.Context) (int, error)
	// Reindex rebuilds the index from the base table.
	Reindex(ctx context.Context) error
}
