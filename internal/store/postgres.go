package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const imageColumns = `id, path, model_id, description, status, status_seq, created_at, updated_at`

func scanImage(row pgx.Row) (*models.ImageItem, error) {
	var img models.ImageItem
	err := row.Scan(&img.ID, &img.Path, &img.ModelID, &img.Description,
		&img.Status, &img.StatusSeq, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// --- Images ---

func (s *PostgresStore) CreateImage(ctx context.Context, img *models.ImageItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO images (id, path, model_id, description, status, status_seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		img.ID, img.Path, img.ModelID, img.Description, img.Status, img.StatusSeq,
		img.CreatedAt, img.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.ImageItem, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ListImages(ctx context.Context, filter ImageFilter) ([]*models.ImageItem, error) {
	var (
		conds []string
		args  []any
	)
	if filter.PathPrefix != "" {
		args = append(args, filter.PathPrefix+"%")
		conds = append(conds, fmt.Sprintf("path LIKE $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	q := `SELECT ` + imageColumns + ` FROM images`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var imgs []*models.ImageItem
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		imgs = append(imgs, img)
	}
	return imgs, rows.Err()
}

func (s *PostgresStore) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, fromStatus models.Status, fromSeq int64, toStatus models.Status, toSeq int64, modelID *string) (*models.ImageItem, error) {
	q := `UPDATE images
	      SET status = $1, status_seq = $2, updated_at = NOW()`
	args := []any{toStatus, toSeq}
	if modelID != nil {
		args = append(args, *modelID)
		q += fmt.Sprintf(`, model_id = $%d`, len(args))
	}
	args = append(args, id, fromStatus, fromSeq)
	q += fmt.Sprintf(`
	      WHERE id = $%d AND status = $%d AND status_seq = $%d
	      RETURNING `+imageColumns, len(args)-2, len(args)-1, len(args))

	img, err := scanImage(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing image from a concurrent change.
		if _, getErr := s.GetImage(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStaleWrite
	}
	if err != nil {
		return nil, fmt.Errorf("swap image status: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) SetDescription(ctx context.Context, id uuid.UUID, description string, seq int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET description = $1, updated_at = NOW()
		 WHERE id = $2 AND status_seq = $3`, description, id, seq)
	if err != nil {
		return fmt.Errorf("set description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetImage(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleWrite
	}
	return nil
}

func (s *PostgresStore) CountStatuses(ctx context.Context, ids []uuid.UUID) (map[models.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM images WHERE id = ANY($1) GROUP BY status`, ids)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var st models.Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// --- Bulk operations ---

const bulkColumns = `id, model_id, image_ids, cancelled, started_at, finished_at`

func scanBulk(row pgx.Row) (*models.BulkOperation, error) {
	var op models.BulkOperation
	err := row.Scan(&op.ID, &op.ModelID, &op.ImageIDs, &op.Cancelled,
		&op.StartedAt, &op.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *PostgresStore) CreateBulkOperation(ctx context.Context, op *models.BulkOperation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bulk_operations (id, model_id, image_ids, cancelled, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		op.ID, op.ModelID, op.ImageIDs, op.Cancelled, op.StartedAt, op.FinishedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create bulk operation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBulkOperation(ctx context.Context, id uuid.UUID) (*models.BulkOperation, error) {
	op, err := scanBulk(s.pool.QueryRow(ctx,
		`SELECT `+bulkColumns+` FROM bulk_operations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bulk operation: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) FindLiveOperationForImage(ctx context.Context, imageID uuid.UUID) (*models.BulkOperation, error) {
	op, err := scanBulk(s.pool.QueryRow(ctx,
		`SELECT `+bulkColumns+` FROM bulk_operations
		 WHERE NOT cancelled AND finished_at IS NULL AND $1 = ANY(image_ids)
		 ORDER BY started_at DESC LIMIT 1`, imageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find live operation for image: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) GetActiveBulkOperation(ctx context.Context) (*models.BulkOperation, error) {
	op, err := scanBulk(s.pool.QueryRow(ctx,
		`SELECT `+bulkColumns+` FROM bulk_operations
		 WHERE NOT cancelled AND finished_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active bulk operation: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) SetBulkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bulk_operations SET cancelled = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set bulk cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetBulkFinished(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bulk_operations SET finished_at = $1 WHERE id = $2 AND finished_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("set bulk finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
