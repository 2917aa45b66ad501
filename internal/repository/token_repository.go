package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
)

// TokenRepo persists guardian access tokens. All timestamp comparisons are
// performed in UTC; callers must pass UTC times.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const tokenColumns = "id, consent_id, parent_email, student_id, method, access_code, expires_at, used_at, ip_address, user_agent, is_revoked, created_at"

// Create inserts an access token row. A duplicate access code among rows
// protected by the unique index is reported as ErrCodeExists so the caller
// can regenerate.
func (r *TokenRepo) Create(ctx context.Context, t *model.AccessToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO access_tokens (id, consent_id, parent_email, student_id, method, access_code, expires_at, is_revoked, created_at) VALUES (?,?,?,?,?,?,?,?,?)",
		t.ID, t.ConsentID, t.ParentEmail, t.StudentID, t.Method, t.AccessCode, t.ExpiresAt.UTC(), t.IsRevoked, t.CreatedAt.UTC())
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "1062") {
		return ErrCodeExists
	}
	return err
}

// GetByID fetches a token regardless of its state.
func (r *TokenRepo) GetByID(ctx context.Context, id string) (model.AccessToken, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM access_tokens WHERE id=? LIMIT 1", id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// GetActiveByCode fetches the token holding the given access code among
// unused, unrevoked, unexpired rows. Codes carry a unique index (see
// schema.sql), so at most one row holds a given code while it exists; the
// expiry sweep frees codes for reuse.
func (r *TokenRepo) GetActiveByCode(ctx context.Context, code string) (model.AccessToken, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM access_tokens WHERE access_code=? AND used_at IS NULL AND is_revoked=0 AND expires_at > UTC_TIMESTAMP() LIMIT 1",
		code)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// Consume marks a token used, recording redemption metadata. The conditional
// UPDATE is the compare-and-swap that guarantees single-use under concurrent
// redemption: exactly one caller observes rows-affected == 1.
func (r *TokenRepo) Consume(ctx context.Context, id string, usedAt time.Time, ip, userAgent *string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE access_tokens SET used_at=?, ip_address=?, user_agent=? WHERE id=? AND used_at IS NULL AND is_revoked=0 AND expires_at > ?",
		usedAt.UTC(), ip, userAgent, id, usedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Revoke marks a token revoked. Returns whether a not-yet-revoked token was
// found; revoking an already revoked or missing token is a no-op.
func (r *TokenRepo) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE access_tokens SET is_revoked=1 WHERE id=? AND is_revoked=0", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RevokeAllForConsent revokes every non-revoked token referencing the consent
// id and returns the number revoked.
func (r *TokenRepo) RevokeAllForConsent(ctx context.Context, consentID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE access_tokens SET is_revoked=1 WHERE consent_id=? AND is_revoked=0", consentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens whose expiry has passed and returns the count.
// Validation already rejects expired tokens; this only bounds storage growth.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM access_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats aggregates token counts, optionally scoped to one consent id when
// consentID is non-empty.
func (r *TokenRepo) Stats(ctx context.Context, consentID string, now time.Time) (model.TokenStats, error) {
	q := "SELECT method, used_at IS NOT NULL, is_revoked, expires_at FROM access_tokens"
	args := []interface{}{}
	if consentID != "" {
		q += " WHERE consent_id=?"
		args = append(args, consentID)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return model.TokenStats{}, err
	}
	defer rows.Close()

	stats := model.TokenStats{ByMethod: map[string]int{}}
	for rows.Next() {
		var (
			method    string
			used      bool
			revoked   bool
			expiresAt time.Time
		)
		if err := rows.Scan(&method, &used, &revoked, &expiresAt); err != nil {
			return stats, err
		}
		stats.Total++
		stats.ByMethod[method]++
		if used {
			stats.Used++
		}
		if revoked {
			stats.Revoked++
		}
		if now.UTC().After(expiresAt) {
			stats.Expired++
		}
	}
	return stats, rows.Err()
}

// scanToken reads one access_tokens row, converting nullable columns into
// pointer fields on the model.
func scanToken(row *sql.Row) (model.AccessToken, error) {
	var (
		t       model.AccessToken
		code    sql.NullString
		usedAt  sql.NullTime
		ip      sql.NullString
		ua      sql.NullString
	)
	err := row.Scan(&t.ID, &t.ConsentID, &t.ParentEmail, &t.StudentID, &t.Method,
		&code, &t.ExpiresAt, &usedAt, &ip, &ua, &t.IsRevoked, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if code.Valid {
		t.AccessCode = &code.String
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	if ip.Valid {
		t.IPAddress = &ip.String
	}
	if ua.Valid {
		t.UserAgent = &ua.String
	}
	return t, nil
}
