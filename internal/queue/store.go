// Package queue holds the worker-side durable job queue: a SQLite-backed
// FIFO store, the narrow HTTP API the application enqueues through, and the
// application-side client for that API.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	_ "modernc.org/sqlite"
)

// Store is a durable FIFO job store. A single file survives worker
// restarts; pending jobs are drained in insertion order.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite job database at path.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job db %s: %w", path, err)
	}
	// The store is shared between the HTTP handlers and the worker loop;
	// a single connection serializes writers and sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		return nil, fmt.Errorf("set busy timeout for %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			rowid_ord INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			image_id TEXT NOT NULL,
			image_path TEXT NOT NULL,
			model_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			callback_status_url TEXT NOT NULL,
			callback_description_url TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_jobs_image_active
			ON jobs (image_id) WHERE status IN ('pending', 'processing');
	`); err != nil {
		return nil, fmt.Errorf("create jobs index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddRequest carries everything needed to enqueue one job.
type AddRequest struct {
	ImageID                uuid.UUID
	ImagePath              string
	ModelID                string
	Seq                    int64
	CallbackStatusURL      string
	CallbackDescriptionURL string
}

// AddJob appends a pending job at the queue tail. Returns ErrDuplicateJob
// if a pending or processing job already references the same image.
func (s *Store) AddJob(ctx context.Context, req AddRequest) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add job: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE image_id = ? AND status IN ('pending', 'processing')`,
		req.ImageID.String()).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateJob
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:                     uuid.New(),
		ImageID:                req.ImageID,
		ImagePath:              req.ImagePath,
		ModelID:                req.ModelID,
		Seq:                    req.Seq,
		Status:                 models.JobStatusPending,
		CallbackStatusURL:      req.CallbackStatusURL,
		CallbackDescriptionURL: req.CallbackDescriptionURL,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, image_id, image_path, model_id, seq, status,
		                   callback_status_url, callback_description_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.ImageID.String(), job.ImagePath, job.ModelID, job.Seq,
		job.Status, job.CallbackStatusURL, job.CallbackDescriptionURL,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add job: %w", err)
	}
	return job, nil
}

const jobColumns = `id, image_id, image_path, model_id, seq, status,
	callback_status_url, callback_description_url, created_at, updated_at`

func scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var id, imageID string
	err := row.Scan(&id, &imageID, &job.ImagePath, &job.ModelID, &job.Seq, &job.Status,
		&job.CallbackStatusURL, &job.CallbackDescriptionURL, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if job.ImageID, err = uuid.Parse(imageID); err != nil {
		return nil, fmt.Errorf("parse image id: %w", err)
	}
	return &job, nil
}

// GetJob returns the job with the given id, or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextPending returns the oldest pending job, or ErrJobNotFound when the
// queue is drained.
func (s *Store) NextPending(ctx context.Context) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending'
		 ORDER BY rowid_ord ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a pending job into processing. Returns false if the
// job was removed or already picked up.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), id.String())
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishJob commits the terminal outcome of a processing job with a
// compare-and-set: if the job is no longer processing (it was cancelled
// while inference ran), the outcome is discarded and false is returned so
// the caller suppresses its callbacks.
func (s *Store) FinishJob(ctx context.Context, id uuid.UUID, outcome string) (bool, error) {
	if outcome != models.JobStatusCompleted && outcome != models.JobStatusFailed {
		return false, fmt.Errorf("finish job: invalid outcome %q", outcome)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		outcome, time.Now().UTC(), id.String())
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveJob cancels a job: pending jobs are deleted outright, processing
// jobs are marked cancelled (the in-flight inference is not interrupted;
// FinishJob's compare-and-set suppresses its late result). Removing a
// terminal or unknown job is a no-op.
func (s *Store) RemoveJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove job: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = ?`, id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup job for removal: %w", err)
	}

	switch status {
	case models.JobStatusPending:
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("delete pending job: %w", err)
		}
	case models.JobStatusProcessing:
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id.String()); err != nil {
			return fmt.Errorf("cancel processing job: %w", err)
		}
	}

	return tx.Commit()
}

// RemoveActiveJobForImage cancels whatever active job references the image,
// returning the affected job id when one existed. Used by bulk cancel,
// which tracks images rather than job ids.
func (s *Store) RemoveActiveJobForImage(ctx context.Context, imageID uuid.UUID) (uuid.UUID, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE image_id = ? AND status IN ('pending', 'processing')
		 ORDER BY rowid_ord ASC LIMIT 1`, imageID.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find active job for image: %w", err)
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse job id: %w", err)
	}
	if err := s.RemoveJob(ctx, jobID); err != nil {
		return uuid.Nil, false, err
	}
	return jobID, true, nil
}

// DeleteJob drops a terminal job row. The worker calls this after callbacks
// fire; the application store keeps the outcome.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Snapshot returns the queue depth and a by-status breakdown.
func (s *Store) Snapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("snapshot queue: %w", err)
	}
	defer rows.Close()

	snap := &models.QueueSnapshot{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan queue snapshot: %w", err)
		}
		snap.ByStatus[status] = n
		snap.Total += n
	}
	return snap, rows.Err()
}
