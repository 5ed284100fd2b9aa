package history

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

const columns = `id, kind, content, content_hash, source_app, created_at, pinned, sensitive`

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

func scanEntry(s scanner, extra ...any) (models.HistoryEntry, error) {
	var (
		e       models.HistoryEntry
		created int64
	)
	dest := append([]any{&e.ID, &e.Kind, &e.Content, &e.ContentHash, &e.SourceApp, &created, &e.Pinned, &e.Sensitive}, extra...)
	if err := s.Scan(dest...); err != nil {
		return e, err
	}
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.HistoryEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO history (kind, content, content_hash, source_app, created_at, pinned, sensitive)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Content, e.ContentHash, e.SourceApp, e.CreatedAt.UnixNano(), e.Pinned, e.Sensitive)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *SQLiteRepository) get(ctx context.Context, where string, arg any) (*models.HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM history WHERE `+where, arg)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	return r.get(ctx, `id = ?`, id)
}

func (r *SQLiteRepository) GetByHash(ctx context.Context, hash string) (*models.HistoryEntry, error) {
	return r.get(ctx, `content_hash = ?`, hash)
}

func (r *SQLiteRepository) exec1(ctx context.Context, op string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s history entry: %w", op, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return r.exec1(ctx, "touch", `UPDATE history SET created_at = ? WHERE id = ?`, at.UnixNano(), id)
}

func (r *SQLiteRepository) SetPinned(ctx context.Context, id int64, pinned bool) error {
	return r.exec1(ctx, "pin", `UPDATE history SET pinned = ? WHERE id = ?`, pinned, id)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	return r.exec1(ctx, "delete", `DELETE FROM history WHERE id = ?`, id)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select history: %w", err)
	}
	defer rows.Close()

	var result []models.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListRecent(ctx context.Context, after *Cursor, limit int) ([]models.HistoryEntry, error) {
	if after == nil {
		return r.list(ctx, `SELECT `+columns+` FROM history
			ORDER BY pinned DESC, created_at DESC, id DESC LIMIT ?`, limit)
	}

	return r.list(ctx, `SELECT `+columns+` FROM history
		WHERE pinned < ?
		   OR (pinned = ? AND (created_at < ? OR (created_at = ? AND id < ?)))
		ORDER BY pinned DESC, created_at DESC, id DESC LIMIT ?`,
		after.Pinned, after.Pinned, after.CreatedAt, after.CreatedAt, after.ID, limit)
}

func (r *SQLiteRepository) Search(ctx context.Context, match string, limit int) ([]Hit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT h.id, h.kind, h.content, h.content_hash, h.source_app, h.created_at, h.pinned, h.sensitive,
		       bm25(history_fts) AS rank
		FROM history_fts
		JOIN history h ON h.id = history_fts.rowid
		WHERE history_fts MATCH ?
		ORDER BY rank, h.id DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if h.Entry, err = scanEntry(rows, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan history hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history hits: %w", err)
	}
	return hits, nil
}

func (r *SQLiteRepository) LatestCreatedAt(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM history`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get latest created_at: %w", err)
	}
	return v.Int64, nil
}

func (r *SQLiteRepository) ListEvictable(ctx context.Context, keep int, cutoff time.Time) ([]models.HistoryEntry, error) {
	if keep <= 0 {
		keep = -1
	}
	var before int64
	if !cutoff.IsZero() {
		before = cutoff.UnixNano()
	}

	return r.list(ctx, `SELECT `+columns+` FROM history
		WHERE pinned = 0 AND (
			created_at < ?
			OR id NOT IN (
				SELECT id FROM history WHERE pinned = 0
				ORDER BY created_at DESC, id DESC LIMIT ?
			)
		)
		ORDER BY created_at, id`, before, keep)
}

func (r *SQLiteRepository) IndexDrift(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM history h WHERE NOT EXISTS (SELECT 1 FROM history_fts f WHERE f.rowid = h.id)) +
		  (SELECT COUNT(*) FROM history_fts f WHERE NOT EXISTS (SELECT 1 FROM history h WHERE h.id = f.rowid))`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to check history index: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Reindex(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM history_fts`); err != nil {
		return fmt.Errorf("failed to clear history index: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history_fts(rowid, content, source_app)
		SELECT id, CASE WHEN sensitive THEN '' ELSE content END, source_app FROM history`)
	if err != nil {
		return fmt.Errorf("failed to rebuild history index: %w", err)
	}
	return nil
}
