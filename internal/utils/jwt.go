package utils // package utils provides helpers for the guardian decision token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// DecisionScope is the scope claim carried by guardian decision tokens.
// Staff access tokens never carry it, so the two token kinds cannot be
// confused even though they share a signing secret.
const DecisionScope = "consent_decision"

// DecisionToken is the short-lived credential handed out after a successful
// one-time token redemption. It lets the guardian complete the approve/deny
// form without making the redeemed access token reusable.
type DecisionToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// DecisionClaims is what a verified decision token asserts: which consent
// record the guardian may decide on, and which student it concerns.
type DecisionClaims struct {
	ConsentID string
	StudentID string
}

// NewDecisionToken builds and signs an HS256 JWT scoping the bearer to one
// consent decision. Claims: sub (consent id), sid (student id), scope,
// exp and iat.
func NewDecisionToken(secret, consentID, studentID string, ttl time.Duration) (DecisionToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   consentID,
		"sid":   studentID,
		"scope": DecisionScope,
		"exp":   exp.Unix(),
		"iat":   now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return DecisionToken{}, err
	}
	return DecisionToken{Token: signed, Exp: exp}, nil
}

// ParseDecisionToken verifies a decision token and returns its claims. Any
// parse failure, wrong signing method, expired token or missing scope yields
// an error; callers treat all of them as "invalid".
func ParseDecisionToken(secret, raw string) (DecisionClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return DecisionClaims{}, errors.New("invalid decision token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return DecisionClaims{}, errors.New("invalid claims")
	}
	if scope, _ := claims["scope"].(string); scope != DecisionScope {
		return DecisionClaims{}, errors.New("wrong token scope")
	}
	consentID, _ := claims["sub"].(string)
	studentID, _ := claims["sid"].(string)
	if consentID == "" {
		return DecisionClaims{}, errors.New("missing consent id")
	}
	return DecisionClaims{ConsentID: consentID, StudentID: studentID}, nil
}
