package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
)

// CleanupJobRepo persists scheduled purge instructions. The cleanup_jobs
// table carries a unique index on session_id, so at most one pending job
// governs a session's next purge time; rescheduling replaces in place.
type CleanupJobRepo struct{ DB *sql.DB }

func NewCleanupJobRepo(db *sql.DB) *CleanupJobRepo { return &CleanupJobRepo{DB: db} }

// Upsert schedules or reschedules the job for a session. The ON DUPLICATE
// branch keeps the original job id stable across reschedules.
func (r *CleanupJobRepo) Upsert(ctx context.Context, j *model.CleanupJob) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO cleanup_jobs (id, session_id, scheduled_for, retention_mode, reason, created_at)
		 VALUES (?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE scheduled_for=VALUES(scheduled_for), retention_mode=VALUES(retention_mode), reason=VALUES(reason)`,
		j.ID, j.SessionID, j.ScheduledFor.UTC(), j.RetentionMode, j.Reason, j.CreatedAt.UTC())
	return err
}

// Due returns every job whose scheduled time has passed.
func (r *CleanupJobRepo) Due(ctx context.Context, now time.Time) ([]model.CleanupJob, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, session_id, scheduled_for, retention_mode, reason, created_at FROM cleanup_jobs WHERE scheduled_for <= ?",
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CleanupJob
	for rows.Next() {
		var j model.CleanupJob
		if err := rows.Scan(&j.ID, &j.SessionID, &j.ScheduledFor, &j.RetentionMode, &j.Reason, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Delete removes an executed job.
func (r *CleanupJobRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM cleanup_jobs WHERE id=?", id)
	return err
}

// CountPending returns the number of not-yet-executed jobs.
func (r *CleanupJobRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM cleanup_jobs").Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
