package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"animify-backend/internal/models"
)

type MediaRepo struct {
	pool *pgxpool.Pool
}

func NewMediaRepo(pool *pgxpool.Pool) *MediaRepo {
	return &MediaRepo{pool: pool}
}

const mediaColumns = `id, owner_id, type, operation, base64, mime_type, url, video_url, file_path,
	loading, error, parent_id, prompt, params_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (*models.MediaItem, error) {
	m := &models.MediaItem{}
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Type, &m.Operation, &m.Base64, &m.MimeType, &m.URL, &m.VideoURL,
		&m.FilePath, &m.Loading, &m.Error, &m.ParentID, &m.Prompt, &m.ParamsJSON,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MediaRepo) Create(ctx context.Context, m *models.MediaItem) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	params := []byte(m.ParamsJSON)
	if len(params) == 0 {
		params = []byte("{}")
	}

	query := `INSERT INTO media_items (id, owner_id, type, operation, base64, mime_type, url, video_url,
			file_path, loading, error, parent_id, prompt, params_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		m.ID, m.OwnerID, m.Type, m.Operation, m.Base64, m.MimeType, m.URL, m.VideoURL,
		m.FilePath, m.Loading, m.Error, m.ParentID, m.Prompt, params,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *MediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_items WHERE id = $1`
	return scanMedia(r.pool.QueryRow(ctx, query, id))
}

func (r *MediaRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, mediaType string, limit, offset int) ([]*models.MediaItem, int, error) {
	where := "WHERE owner_id = $1"
	args := []any{ownerID}
	if mediaType != "" {
		where += " AND type = $2"
		args = append(args, mediaType)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM media_items "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count media items: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM media_items %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		mediaColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*models.MediaItem{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// MarkLoading puts a failed item back into the loading state for a retry.
// It reports false when the item was not in the failed state, so only one of
// several concurrent retries wins.
func (r *MediaRepo) MarkLoading(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE media_items
		SET loading = TRUE, error = NULL, updated_at = NOW()
		WHERE id = $1 AND loading = FALSE AND error IS NOT NULL AND error <> ''`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MediaRepo) SetResult(ctx context.Context, id uuid.UUID, res models.MediaResult) error {
	_, err := r.pool.Exec(ctx, `UPDATE media_items
		SET base64 = COALESCE($1, base64), mime_type = COALESCE($2, mime_type),
			url = COALESCE($3, url), video_url = COALESCE($4, video_url),
			loading = FALSE, error = NULL, updated_at = NOW()
		WHERE id = $5`,
		res.Base64, res.MimeType, res.URL, res.VideoURL, id,
	)
	return err
}

func (r *MediaRepo) SetError(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE media_items SET loading = FALSE, error = $1, updated_at = NOW() WHERE id = $2",
		errMsg, id,
	)
	return err
}

// FailStale settles items that have been loading since before the cutoff
// and returns them.
func (r *MediaRepo) FailStale(ctx context.Context, before time.Time, errMsg string) ([]*models.MediaItem, error) {
	rows, err := r.pool.Query(ctx, `UPDATE media_items
		SET loading = FALSE, error = $1, updated_at = NOW()
		WHERE loading = TRUE AND updated_at < $2
		RETURNING `+mediaColumns, errMsg, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*models.MediaItem{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *MediaRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM media_items WHERE id = $1", id)
	return err
}
