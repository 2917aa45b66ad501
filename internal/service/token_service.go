package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/repository"
)

// TokenStore is the persistence contract the token service depends on. The
// production implementation is repository.TokenRepo; tests supply stubs.
// Consume must be atomic with respect to concurrent redemption of the same
// token: of two simultaneous callers, at most one may observe true.
type TokenStore interface {
	Create(ctx context.Context, t *model.AccessToken) error
	GetByID(ctx context.Context, id string) (model.AccessToken, error)
	GetActiveByCode(ctx context.Context, code string) (model.AccessToken, error)
	Consume(ctx context.Context, id string, usedAt time.Time, ip, userAgent *string) (bool, error)
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForConsent(ctx context.Context, consentID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, consentID string, now time.Time) (model.TokenStats, error)
}

// TokenService mints, validates and revokes guardian access grants. Email
// and QR tokens live 72 hours, access codes 24 hours; expiries are fixed at
// creation and never extended.
type TokenService struct {
	store    TokenStore
	baseURL  string
	emailTTL time.Duration
	codeTTL  time.Duration
	now      func() time.Time
	idGen    func() string
}

func NewTokenService(store TokenStore, baseURL string, emailTTL, codeTTL time.Duration) *TokenService {
	return &TokenService{
		store:    store,
		baseURL:  baseURL,
		emailTTL: emailTTL,
		codeTTL:  codeTTL,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    uuid.NewString,
	}
}

// IssueEmailToken mints a link token for the guardian in the consent record.
func (s *TokenService) IssueEmailToken(ctx context.Context, rec model.ConsentRecord) (*model.AccessToken, error) {
	return s.issue(ctx, rec, model.MethodEmailLink, s.emailTTL, nil)
}

// IssueQRToken mints a token intended to be rendered as a scannable payload.
func (s *TokenService) IssueQRToken(ctx context.Context, rec model.ConsentRecord) (*model.AccessToken, error) {
	return s.issue(ctx, rec, model.MethodQRCode, s.emailTTL, nil)
}

// IssueAccessCode mints a token redeemable by its 8-digit code. Weak codes
// (all-identical digits, strict ascending or descending runs) are rejected
// and regenerated, as are codes colliding with another active code.
func (s *TokenService) IssueAccessCode(ctx context.Context, rec model.ConsentRecord) (*model.AccessToken, error) {
	for {
		code, err := generateAccessCode()
		if err != nil {
			return nil, err
		}
		tok, err := s.issue(ctx, rec, model.MethodAccessCode, s.codeTTL, &code)
		if err == repository.ErrCodeExists {
			continue
		}
		return tok, err
	}
}

func (s *TokenService) issue(ctx context.Context, rec model.ConsentRecord, method string, ttl time.Duration, code *string) (*model.AccessToken, error) {
	now := s.now()
	t := &model.AccessToken{
		ID:          s.idGen(),
		ConsentID:   rec.ID,
		ParentEmail: rec.GuardianEmail,
		StudentID:   rec.StudentID,
		Method:      method,
		AccessCode:  code,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidateToken redeems a token by id. It returns the token iff it exists,
// is not revoked, not expired and not yet used; any other outcome yields nil.
// The guardian-facing caller must not learn which condition failed, but the
// distinct reason is logged for traceability. Storage errors degrade to nil.
func (s *TokenService) ValidateToken(ctx context.Context, tokenID, ipAddress, userAgent string) *model.AccessToken {
	t, err := s.store.GetByID(ctx, tokenID)
	if err != nil {
		if err != repository.ErrNotFound {
			log.Printf("token validate: load %s failed: %v", tokenID, err)
		} else {
			log.Printf("token validate: %s not found", tokenID)
		}
		return nil
	}
	return s.consume(ctx, t, ipAddress, userAgent)
}

// ValidateAccessCode redeems a token by its 8-digit code. Same contract as
// ValidateToken, but the lookup runs over unused, unrevoked, unexpired
// access-code tokens.
func (s *TokenService) ValidateAccessCode(ctx context.Context, code, ipAddress, userAgent string) *model.AccessToken {
	t, err := s.store.GetActiveByCode(ctx, code)
	if err != nil {
		if err != repository.ErrNotFound {
			log.Printf("code validate: lookup failed: %v", err)
		} else {
			log.Printf("code validate: no active token for code")
		}
		return nil
	}
	return s.consume(ctx, t, ipAddress, userAgent)
}

func (s *TokenService) consume(ctx context.Context, t model.AccessToken, ipAddress, userAgent string) *model.AccessToken {
	now := s.now()
	switch {
	case t.IsRevoked:
		log.Printf("token validate: %s revoked", t.ID)
		return nil
	case t.UsedAt != nil:
		log.Printf("token validate: %s already used at %s", t.ID, t.UsedAt.Format(time.RFC3339))
		return nil
	case now.After(t.ExpiresAt):
		log.Printf("token validate: %s expired at %s", t.ID, t.ExpiresAt.Format(time.RFC3339))
		return nil
	}

	ip := optional(ipAddress)
	ua := optional(userAgent)
	// The store re-checks every condition; a concurrent redemption loses here.
	ok, err := s.store.Consume(ctx, t.ID, now, ip, ua)
	if err != nil {
		log.Printf("token validate: consume %s failed: %v", t.ID, err)
		return nil
	}
	if !ok {
		log.Printf("token validate: %s lost redemption race", t.ID)
		return nil
	}
	t.UsedAt = &now
	t.IPAddress = ip
	t.UserAgent = ua
	return &t
}

// Revoke marks a single token revoked. Idempotent; reports whether a live
// token was found.
func (s *TokenService) Revoke(ctx context.Context, tokenID string) (bool, error) {
	return s.store.Revoke(ctx, tokenID)
}

// RevokeAllForConsent revokes every non-revoked token for a consent record.
// Used when a new consent request supersedes a prior one or consent is
// withdrawn. Returns the number of tokens revoked.
func (s *TokenService) RevokeAllForConsent(ctx context.Context, consentID string) (int64, error) {
	return s.store.RevokeAllForConsent(ctx, consentID)
}

// BuildConsentURL returns the guardian-facing action URL for a token.
func (s *TokenService) BuildConsentURL(t *model.AccessToken) string {
	return fmt.Sprintf("%s/consent/%s?student=%s", s.baseURL, t.ID, t.StudentID)
}

// SweepExpired deletes expired tokens and returns the count removed. Run
// hourly; validation already checks expiry, so this is housekeeping only.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// Stats aggregates token counts for audit, optionally scoped to one consent.
func (s *TokenService) Stats(ctx context.Context, consentID string) (model.TokenStats, error) {
	return s.store.Stats(ctx, consentID, s.now())
}

// generateAccessCode returns 8 random digits, retrying until the code is not
// a weak pattern. The rejection set is tiny relative to the 10^8 space, so
// in practice a single draw suffices.
func generateAccessCode() (string, error) {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		code := fmt.Sprintf("%08d", binary.BigEndian.Uint32(buf[:])%100000000)
		if !isWeakCode(code) {
			return code, nil
		}
	}
}

// isWeakCode reports whether a code is all-identical digits or a strict
// ascending/descending run, e.g. 11111111, 12345678, 87654321.
func isWeakCode(code string) bool {
	allEqual, ascending, descending := true, true, true
	for i := 1; i < len(code); i++ {
		d, prev := code[i], code[i-1]
		if d != prev {
			allEqual = false
		}
		if d != prev+1 {
			ascending = false
		}
		if d != prev-1 {
			descending = false
		}
	}
	return allEqual || ascending || descending
}

// optional converts an empty string into a nil pointer for nullable columns.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
