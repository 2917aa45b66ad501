package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
)

// SessionRepo persists retention-tracked usage sessions and their quiz
// results. Deleting a session and its results is what "purge" means for
// short-term data; long-term purges remove only the session row.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id, user_id, guest_id, retention_mode, has_valid_consent, last_activity, scheduled_cleanup, created_at"

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO retention_sessions (id, user_id, guest_id, retention_mode, has_valid_consent, last_activity, scheduled_cleanup, created_at) VALUES (?,?,?,?,?,?,?,?)",
		s.ID, s.UserID, s.GuestID, s.RetentionMode, s.HasValidConsent,
		s.LastActivity.UTC(), nullableTime(s.ScheduledCleanup), s.CreatedAt.UTC())
	return err
}

// GetByID fetches a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (model.Session, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM retention_sessions WHERE id=? LIMIT 1", id)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrSessionNotFound
	}
	return s, err
}

// UpdateActivity bumps last_activity and, when cleanup is non-nil, the
// scheduled cleanup. Returns whether the session exists.
func (r *SessionRepo) UpdateActivity(ctx context.Context, id string, lastActivity time.Time, cleanup *time.Time) (bool, error) {
	var res sql.Result
	var err error
	if cleanup != nil {
		res, err = r.DB.ExecContext(ctx,
			"UPDATE retention_sessions SET last_activity=?, scheduled_cleanup=? WHERE id=?",
			lastActivity.UTC(), cleanup.UTC(), id)
	} else {
		res, err = r.DB.ExecContext(ctx,
			"UPDATE retention_sessions SET last_activity=? WHERE id=?",
			lastActivity.UTC(), id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// AddQuizResult appends one result row to a session.
func (r *SessionRepo) AddQuizResult(ctx context.Context, q *model.QuizResult) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO session_quiz_results (id, session_id, quiz_id, score, max_score, created_at) VALUES (?,?,?,?,?,?)",
		q.ID, q.SessionID, q.QuizID, q.Score, q.MaxScore, q.CreatedAt.UTC())
	return err
}

// DeleteResults erases all quiz results for a session and returns the count.
func (r *SessionRepo) DeleteResults(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM session_quiz_results WHERE session_id=?", sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes the session row itself. Returns whether a row existed, so
// job execution can distinguish a real purge from an idempotent re-run.
func (r *SessionRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM retention_sessions WHERE id=?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListByUser returns every session belonging to the given user id.
func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM retention_sessions WHERE user_id=?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats counts active sessions broken down by retention mode.
func (r *SessionRepo) Stats(ctx context.Context) (active, shortTerm, longTerm int, err error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT retention_mode, COUNT(*) FROM retention_sessions GROUP BY retention_mode")
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return 0, 0, 0, err
		}
		active += n
		switch mode {
		case model.RetentionShortTerm:
			shortTerm += n
		case model.RetentionLongTerm:
			longTerm += n
		}
	}
	return active, shortTerm, longTerm, rows.Err()
}

func scanSession(scan func(dest ...interface{}) error) (model.Session, error) {
	var (
		s       model.Session
		userID  sql.NullString
		guestID sql.NullString
		cleanup sql.NullTime
	)
	err := scan(&s.ID, &userID, &guestID, &s.RetentionMode, &s.HasValidConsent,
		&s.LastActivity, &cleanup, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	if userID.Valid {
		s.UserID = &userID.String
	}
	if guestID.Valid {
		s.GuestID = &guestID.String
	}
	if cleanup.Valid {
		s.ScheduledCleanup = &cleanup.Time
	}
	return s, nil
}
