package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
)

// NotificationRepo persists outbound notification attempts. Rows are written
// before delivery is attempted and only the status/sent_at columns change
// afterwards, so a failed send leaves an inspectable record behind.
type NotificationRepo struct{ DB *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{DB: db} }

// Create inserts a notification row in pending state.
func (r *NotificationRepo) Create(ctx context.Context, n *model.ConsentNotification) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO consent_notifications (id, type, student_id, parent_email, parent_name, consent_id, status, method, subject, body, action_url, expires_at, created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)",
		n.ID, n.Type, n.StudentID, n.ParentEmail, n.ParentName, n.ConsentID,
		n.Status, n.Method, n.Subject, n.Body, n.ActionURL, nullableTime(n.ExpiresAt), n.CreatedAt.UTC())
	return err
}

// MarkSent transitions a notification to sent with the delivery timestamp.
func (r *NotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE consent_notifications SET status=?, sent_at=? WHERE id=?",
		model.NotificationSent, sentAt.UTC(), id)
	return err
}

// MarkFailed transitions a notification to failed.
func (r *NotificationRepo) MarkFailed(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE consent_notifications SET status=? WHERE id=?",
		model.NotificationFailed, id)
	return err
}

// ListByConsent returns all notifications for a consent id, newest first.
func (r *NotificationRepo) ListByConsent(ctx context.Context, consentID string) ([]model.ConsentNotification, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, type, student_id, parent_email, parent_name, consent_id, status, method, subject, body, action_url, expires_at, sent_at, created_at FROM consent_notifications WHERE consent_id=? ORDER BY created_at DESC",
		consentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConsentNotification
	for rows.Next() {
		var (
			n         model.ConsentNotification
			actionURL sql.NullString
			expiresAt sql.NullTime
			sentAt    sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.StudentID, &n.ParentEmail, &n.ParentName,
			&n.ConsentID, &n.Status, &n.Method, &n.Subject, &n.Body,
			&actionURL, &expiresAt, &sentAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if actionURL.Valid {
			n.ActionURL = &actionURL.String
		}
		if expiresAt.Valid {
			n.ExpiresAt = &expiresAt.Time
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// nullableTime converts an optional time into a driver-friendly value in UTC.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
