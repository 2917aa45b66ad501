package model

import "time"

// Delivery methods for guardian access tokens.
const (
	MethodEmailLink  = "email_link"
	MethodQRCode     = "qr_code"
	MethodAccessCode = "access_code"
)

// AccessToken represents one redeemable grant of guardian access to a consent
// record.  A token is single-use: used_at is set exactly once, atomically, at
// redemption.  Expired or revoked tokens never validate.
//
// Fields:
//  ID          – primary key (uuid string), embedded in consent links.
//  ConsentID   – consent record this token grants access to.
//  ParentEmail – guardian the token was issued for.
//  StudentID   – student the consent concerns (denormalized for link building).
//  Method      – email_link, qr_code or access_code.
//  AccessCode  – 8-digit code, set only when Method is access_code.
//  ExpiresAt   – fixed at creation, never extended.
//  UsedAt      – redemption timestamp (nil while unused).
//  IPAddress   – client address captured at redemption.
//  UserAgent   – client user agent captured at redemption.
//  IsRevoked   – terminal revocation flag.
//  CreatedAt   – creation timestamp.
type AccessToken struct {
	ID          string     // access_tokens.id
	ConsentID   string     // access_tokens.consent_id
	ParentEmail string     // access_tokens.parent_email
	StudentID   string     // access_tokens.student_id
	Method      string     // access_tokens.method
	AccessCode  *string    // access_tokens.access_code (nullable)
	ExpiresAt   time.Time  // access_tokens.expires_at
	UsedAt      *time.Time // access_tokens.used_at (nullable)
	IPAddress   *string    // access_tokens.ip_address (nullable)
	UserAgent   *string    // access_tokens.user_agent (nullable)
	IsRevoked   bool       // access_tokens.is_revoked
	CreatedAt   time.Time  // access_tokens.created_at
}

// TokenStats aggregates token counts for the audit surface.
type TokenStats struct {
	Total    int            `json:"total"`
	Used     int            `json:"used"`
	Expired  int            `json:"expired"`
	Revoked  int            `json:"revoked"`
	ByMethod map[string]int `json:"by_method"`
}
