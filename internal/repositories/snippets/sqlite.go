package snippets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

const columns = `s.id, s.category_id, s.title, s.content, s.masked, s.nonce, s.ciphertext, s.tag, s.usage_count, s.updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnippet(sc scanner, extra ...any) (models.Snippet, error) {
	var (
		s       models.Snippet
		updated int64
	)
	dest := append([]any{&s.ID, &s.CategoryID, &s.Title, &s.Content, &s.Masked,
		&s.Sealed.Nonce, &s.Sealed.Ciphertext, &s.Sealed.Tag, &s.UsageCount, &updated}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return s, err
	}
	s.UpdatedAt = time.Unix(0, updated)
	return s, nil
}

// row maps the in-memory snippet to column values; masked snippets never
// carry plaintext into the table.
func row(s *models.Snippet) (content string, nonce, ciphertext, tag []byte) {
	if s.Masked {
		return "", s.Sealed.Nonce, s.Sealed.Ciphertext, s.Sealed.Tag
	}
	return s.Content, nil, nil, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, s *models.Snippet) error {
	content, nonce, ciphertext, tag := row(s)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO snippets (category_id, title, content, masked, nonce, ciphertext, tag, usage_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CategoryID, s.Title, content, s.Masked, nonce, ciphertext, tag, s.UsageCount, s.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert snippet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get snippet id: %w", err)
	}
	s.ID = id
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, s *models.Snippet) error {
	content, nonce, ciphertext, tag := row(s)
	res, err := r.db.ExecContext(ctx, `
		UPDATE snippets
		SET category_id = ?, title = ?, content = ?, masked = ?, nonce = ?, ciphertext = ?, tag = ?, updated_at = ?
		WHERE id = ?`,
		s.CategoryID, s.Title, content, s.Masked, nonce, ciphertext, tag, s.UpdatedAt.UnixNano(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update snippet: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Snippet, error) {
	s, err := scanSnippet(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM snippets s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snippet: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snippet: %w", err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) DeleteByCategory(ctx context.Context, categoryID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snippets WHERE category_id = ?`, categoryID); err != nil {
		return fmt.Errorf("failed to delete snippets of category %d: %w", categoryID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, categoryID int64, includeLocked bool) ([]models.Snippet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM snippets s
		JOIN categories c ON c.id = s.category_id
		WHERE (? = 0 OR s.category_id = ?)
		  AND (? OR c.locked = 0)
		ORDER BY s.usage_count DESC, s.updated_at DESC, s.id DESC`,
		categoryID, categoryID, includeLocked)
	if err != nil {
		return nil, fmt.Errorf("failed to select snippets: %w", err)
	}
	defer rows.Close()

	var result []models.Snippet
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snippet row: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snippet rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) IncrementUsage(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE snippets SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment snippet usage: %w", err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) Search(ctx context.Context, match string, includeLocked bool, limit int) ([]Hit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+`, bm25(snippets_fts) AS rank
		FROM snippets_fts
		JOIN snippets s ON s.id = snippets_fts.rowid
		JOIN categories c ON c.id = s.category_id
		WHERE snippets_fts MATCH ?
		  AND (? OR c.locked = 0)
		ORDER BY rank, s.id DESC
		LIMIT ?`, match, includeLocked, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search snippets: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if h.Snippet, err = scanSnippet(rows, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan snippet hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snippet hits: %w", err)
	}
	return hits, nil
}

func (r *SQLiteRepository) IndexDrift(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM snippets s WHERE NOT EXISTS (SELECT 1 FROM snippets_fts f WHERE f.rowid = s.id)) +
		  (SELECT COUNT(*) FROM snippets_fts f WHERE NOT EXISTS (SELECT 1 FROM snippets s WHERE s.id = f.rowid)) +
		  (SELECT COUNT(*) FROM snippets s JOIN snippets_fts f ON f.rowid = s.id WHERE s.masked AND f.content != '')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to check snippet index: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Reindex(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snippets_fts`); err != nil {
		return fmt.Errorf("failed to clear snippet index: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snippets_fts(rowid, title, content)
		SELECT id, title, CASE WHEN masked THEN '' ELSE content END FROM snippets`)
	if err != nil {
		return fmt.Errorf("failed to rebuild snippet index: %w", err)
	}
	return nil
}
