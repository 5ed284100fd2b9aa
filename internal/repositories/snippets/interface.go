package snippets

import (
	"context"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// Hit is a full-text match with its bm25 rank (lower is better).
type Hit struct {
	Snippet models.Snippet
	Rank    float64
}

// Repository persists snippets. Masked snippets are stored with an empty
// content column and their ciphertext in nonce/ciphertext/tag; this layer
// never encrypts or decrypts.
type Repository interface {
	// Create inserts s and sets s.ID.
	Create(ctx context.Context, s *models.Snippet) error
	// Update replaces category, title and content fields of an existing snippet.
	Update(ctx context.Context, s *models.Snippet) error
	GetByID(ctx context.Context, id int64) (*models.Snippet, error)
	Delete(ctx context.Context, id int64) error
	DeleteByCategory(ctx context.Context, categoryID int64) error

	// List returns snippets of a category (0 = all), most used first.
	List(ctx context.Context, categoryID int64, includeLocked bool) ([]models.Snippet, error)
	IncrementUsage(ctx context.Context, id int64) error

	// Search runs an FTS5 MATCH expression against the snippet index.
	// Snippets of locked categories are skipped unless includeLocked is set.
	Search(ctx context.Context, match string, includeLocked bool, limit int) ([]Hit, error)

	IndexDrift(ctx context.Context) (int, error)
	Reindex(ctx context.Context) error
}
