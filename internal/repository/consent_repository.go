package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
)

// ConsentRepo persists consent records. The rest of the system treats these
// rows as an opaque reference: only the status and decided_at columns are
// ever mutated after creation.
type ConsentRepo struct{ DB *sql.DB }

func NewConsentRepo(db *sql.DB) *ConsentRepo { return &ConsentRepo{DB: db} }

const consentColumns = "id, student_id, guardian_email, guardian_name, status, method, expires_at, decided_at, created_at"

// Create inserts a consent record.
func (r *ConsentRepo) Create(ctx context.Context, rec *model.ConsentRecord) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO consent_records (id, student_id, guardian_email, guardian_name, status, method, expires_at, created_at) VALUES (?,?,?,?,?,?,?,?)",
		rec.ID, rec.StudentID, rec.GuardianEmail, rec.GuardianName, rec.Status, rec.Method, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
	return err
}

// GetByID fetches a consent record by id.
func (r *ConsentRepo) GetByID(ctx context.Context, id string) (model.ConsentRecord, error) {
	var (
		rec       model.ConsentRecord
		decidedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+consentColumns+" FROM consent_records WHERE id=? LIMIT 1", id).
		Scan(&rec.ID, &rec.StudentID, &rec.GuardianEmail, &rec.GuardianName,
			&rec.Status, &rec.Method, &rec.ExpiresAt, &decidedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrConsentNotFound
	}
	if err != nil {
		return rec, err
	}
	if decidedAt.Valid {
		rec.DecidedAt = &decidedAt.Time
	}
	return rec, nil
}

// UpdateStatus records a consent decision. Returns whether a row was updated.
func (r *ConsentRepo) UpdateStatus(ctx context.Context, id, status string, decidedAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE consent_records SET status=?, decided_at=? WHERE id=?",
		status, decidedAt.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListPendingOlderThan returns pending, unexpired consent records created
// before the cutoff. The reminder job uses this to decide who gets nudged.
func (r *ConsentRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.ConsentRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+consentColumns+" FROM consent_records WHERE status=? AND created_at < ? AND expires_at > UTC_TIMESTAMP()",
		model.ConsentPending, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConsentRecord
	for rows.Next() {
		var (
			rec       model.ConsentRecord
			decidedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.GuardianEmail, &rec.GuardianName,
			&rec.Status, &rec.Method, &rec.ExpiresAt, &decidedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if decidedAt.Valid {
			rec.DecidedAt = &decidedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
