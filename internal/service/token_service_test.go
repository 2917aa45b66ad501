package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/repository"
)

// stubTokenStore keeps tokens in a map and consumes them with the same
// compare-and-set contract as the SQL repository.
type stubTokenStore struct {
	tokens     map[string]*model.AccessToken
	createErr  error
	codeExists int // remaining Create calls to fail with ErrCodeExists
}

func newStubTokenStore() *stubTokenStore {
	return &stubTokenStore{tokens: map[string]*model.AccessToken{}}
}

func (s *stubTokenStore) Create(ctx context.Context, t *model.AccessToken) error {
	if s.createErr != nil {
		return s.createErr
	}
	if s.codeExists > 0 && t.AccessCode != nil {
		s.codeExists--
		return repository.ErrCodeExists
	}
	copy := *t
	s.tokens[t.ID] = &copy
	return nil
}

func (s *stubTokenStore) GetByID(ctx context.Context, id string) (model.AccessToken, error) {
	t, ok := s.tokens[id]
	if !ok {
		return model.AccessToken{}, repository.ErrNotFound
	}
	return *t, nil
}

func (s *stubTokenStore) GetActiveByCode(ctx context.Context, code string) (model.AccessToken, error) {
	for _, t := range s.tokens {
		if t.AccessCode != nil && *t.AccessCode == code && t.UsedAt == nil && !t.IsRevoked {
			return *t, nil
		}
	}
	return model.AccessToken{}, repository.ErrNotFound
}

func (s *stubTokenStore) Consume(ctx context.Context, id string, usedAt time.Time, ip, userAgent *string) (bool, error) {
	t, ok := s.tokens[id]
	if !ok || t.UsedAt != nil || t.IsRevoked || !t.ExpiresAt.After(usedAt) {
		return false, nil
	}
	t.UsedAt = &usedAt
	t.IPAddress = ip
	t.UserAgent = userAgent
	return true, nil
}

func (s *stubTokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	t, ok := s.tokens[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (s *stubTokenStore) RevokeAllForConsent(ctx context.Context, consentID string) (int64, error) {
	var n int64
	for _, t := range s.tokens {
		if t.ConsentID == consentID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (s *stubTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *stubTokenStore) Stats(ctx context.Context, consentID string, now time.Time) (model.TokenStats, error) {
	stats := model.TokenStats{ByMethod: map[string]int{}}
	for _, t := range s.tokens {
		if consentID != "" && t.ConsentID != consentID {
			continue
		}
		stats.Total++
		stats.ByMethod[t.Method]++
		if t.UsedAt != nil {
			stats.Used++
		}
		if t.IsRevoked {
			stats.Revoked++
		}
		if !t.ExpiresAt.After(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

var testConsent = model.ConsentRecord{
	ID:            "C1",
	StudentID:     "student-7",
	GuardianEmail: "anna@example.se",
	GuardianName:  "Anna",
	Status:        model.ConsentPending,
}

func newTestTokenService(store TokenStore) *TokenService {
	svc := NewTokenService(store, "https://app.example.se", 72*time.Hour, 24*time.Hour)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	seq := 0
	svc.idGen = func() string { seq++; return "TOK" + strconv.Itoa(seq) }
	return svc
}

func TestIssueEmailTokenLifetime(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)

	tok, err := svc.IssueEmailToken(context.Background(), testConsent)
	if err != nil {
		t.Fatalf("IssueEmailToken error: %v", err)
	}
	if tok.Method != model.MethodEmailLink || tok.ConsentID != "C1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	want := svc.now().Add(72 * time.Hour)
	if !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expires %v, want %v", tok.ExpiresAt, want)
	}
	if store.tokens[tok.ID] == nil {
		t.Fatalf("token not persisted")
	}
}

func TestIssueAccessCodeRetriesOnCollision(t *testing.T) {
	store := newStubTokenStore()
	store.codeExists = 2
	svc := newTestTokenService(store)

	tok, err := svc.IssueAccessCode(context.Background(), testConsent)
	if err != nil {
		t.Fatalf("IssueAccessCode error: %v", err)
	}
	if tok.AccessCode == nil || len(*tok.AccessCode) != 8 {
		t.Fatalf("expected 8-digit code, got %+v", tok.AccessCode)
	}
	want := svc.now().Add(24 * time.Hour)
	if !tok.ExpiresAt.Equal(want) {
		t.Fatalf("code expires %v, want %v", tok.ExpiresAt, want)
	}
}

func TestValidateTokenSingleUse(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	tok, _ := svc.IssueEmailToken(context.Background(), testConsent)

	first := svc.ValidateToken(context.Background(), tok.ID, "10.0.0.1", "Mozilla/5.0")
	if first == nil {
		t.Fatalf("first redemption rejected")
	}
	if first.UsedAt == nil || first.IPAddress == nil || *first.IPAddress != "10.0.0.1" {
		t.Fatalf("redemption metadata not captured: %+v", first)
	}
	if second := svc.ValidateToken(context.Background(), tok.ID, "10.0.0.2", ""); second != nil {
		t.Fatalf("second redemption accepted")
	}
}

func TestValidateTokenExpiryBoundary(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	tok, _ := svc.IssueEmailToken(context.Background(), testConsent)

	// Exactly at the expiry instant the token is no longer valid.
	svc.now = func() time.Time { return tok.ExpiresAt }
	if got := svc.ValidateToken(context.Background(), tok.ID, "", ""); got != nil {
		t.Fatalf("token accepted at its expiry instant")
	}

	svc.now = func() time.Time { return tok.ExpiresAt.Add(-time.Second) }
	if got := svc.ValidateToken(context.Background(), tok.ID, "", ""); got == nil {
		t.Fatalf("token rejected one second before expiry")
	}
}

func TestRevocationIsTerminal(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	tok, _ := svc.IssueEmailToken(context.Background(), testConsent)

	ok, err := svc.Revoke(context.Background(), tok.ID)
	if err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	if got := svc.ValidateToken(context.Background(), tok.ID, "", ""); got != nil {
		t.Fatalf("revoked token validated")
	}
	// Revoking again reports no live token but does not error.
	ok, err = svc.Revoke(context.Background(), tok.ID)
	if err != nil || ok {
		t.Fatalf("second Revoke: ok=%v err=%v", ok, err)
	}
}

func TestRevokeAllForConsentScoping(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	ctx := context.Background()

	a1, _ := svc.IssueEmailToken(ctx, testConsent)
	a2, _ := svc.IssueQRToken(ctx, testConsent)
	other := testConsent
	other.ID = "C2"
	b1, _ := svc.IssueEmailToken(ctx, other)

	n, err := svc.RevokeAllForConsent(ctx, "C1")
	if err != nil {
		t.Fatalf("RevokeAllForConsent error: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d tokens, want 2", n)
	}
	if !store.tokens[a1.ID].IsRevoked || !store.tokens[a2.ID].IsRevoked {
		t.Fatalf("C1 tokens not revoked")
	}
	if store.tokens[b1.ID].IsRevoked {
		t.Fatalf("unrelated consent's token revoked")
	}
}

func TestValidateAccessCodeFlow(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	ctx := context.Background()

	tok, err := svc.IssueAccessCode(ctx, testConsent)
	if err != nil {
		t.Fatalf("IssueAccessCode error: %v", err)
	}
	code := *tok.AccessCode

	got := svc.ValidateAccessCode(ctx, code, "192.0.2.1", "")
	if got == nil {
		t.Fatalf("valid code rejected")
	}
	if got.ConsentID != "C1" || got.StudentID != "student-7" {
		t.Fatalf("unexpected token: %+v", got)
	}
	if again := svc.ValidateAccessCode(ctx, code, "192.0.2.2", ""); again != nil {
		t.Fatalf("used code redeemed twice")
	}
	if unknown := svc.ValidateAccessCode(ctx, "00000000", "", ""); unknown != nil {
		t.Fatalf("unknown code accepted")
	}
}

func TestRevokeAllInvalidatesUnusedAccessCode(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	ctx := context.Background()

	first, err := svc.IssueAccessCode(ctx, testConsent)
	if err != nil {
		t.Fatalf("IssueAccessCode error: %v", err)
	}
	if got := svc.ValidateAccessCode(ctx, *first.AccessCode, "", ""); got == nil {
		t.Fatalf("first code rejected")
	}
	if again := svc.ValidateAccessCode(ctx, *first.AccessCode, "", ""); again != nil {
		t.Fatalf("used code redeemed twice")
	}

	// A replacement code that was never redeemed must die with the rest of
	// the consent's tokens.
	second, err := svc.IssueAccessCode(ctx, testConsent)
	if err != nil {
		t.Fatalf("IssueAccessCode error: %v", err)
	}
	if _, err := svc.RevokeAllForConsent(ctx, "C1"); err != nil {
		t.Fatalf("RevokeAllForConsent error: %v", err)
	}
	if got := svc.ValidateAccessCode(ctx, *second.AccessCode, "", ""); got != nil {
		t.Fatalf("revoked code redeemed")
	}
}

func TestSweepExpired(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	ctx := context.Background()

	old, _ := svc.IssueAccessCode(ctx, testConsent) // 24h
	fresh, _ := svc.IssueEmailToken(ctx, testConsent)

	svc.now = func() time.Time { return old.ExpiresAt.Add(time.Hour) }
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired error: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d tokens, want 1", n)
	}
	if _, ok := store.tokens[fresh.ID]; !ok {
		t.Fatalf("unexpired token swept")
	}
}

func TestIsWeakCode(t *testing.T) {
	weak := []string{"11111111", "00000000", "12345678", "23456789", "87654321", "98765432"}
	for _, c := range weak {
		if !isWeakCode(c) {
			t.Errorf("isWeakCode(%q) = false, want true", c)
		}
	}
	strong := []string{"12345679", "84629157", "11111112", "10000000"}
	for _, c := range strong {
		if isWeakCode(c) {
			t.Errorf("isWeakCode(%q) = true, want false", c)
		}
	}
}

func TestGenerateAccessCodeNeverWeak(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateAccessCode()
		if err != nil {
			t.Fatalf("generateAccessCode error: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("code %q is not 8 digits", code)
		}
		if isWeakCode(code) {
			t.Fatalf("generated weak code %q", code)
		}
	}
}

func TestTokenStats(t *testing.T) {
	store := newStubTokenStore()
	svc := newTestTokenService(store)
	ctx := context.Background()

	used, _ := svc.IssueEmailToken(ctx, testConsent)
	svc.ValidateToken(ctx, used.ID, "", "")
	revoked, _ := svc.IssueQRToken(ctx, testConsent)
	svc.Revoke(ctx, revoked.ID)
	svc.IssueAccessCode(ctx, testConsent)

	stats, err := svc.Stats(ctx, "C1")
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Total != 3 || stats.Used != 1 || stats.Revoked != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByMethod[model.MethodEmailLink] != 1 || stats.ByMethod[model.MethodAccessCode] != 1 {
		t.Fatalf("unexpected method breakdown: %+v", stats.ByMethod)
	}
}
