package model

import "time"

// Consent status values as stored in consent_records.status.
const (
	ConsentPending  = "pending"
	ConsentApproved = "approved"
	ConsentDenied   = "denied"
	ConsentRevoked  = "revoked"
)

// ConsentRecord is the durable approve/deny decision for one student's data
// retention.  It identifies the student and the guardian who may decide, and
// carries an expiry after which an undecided request is considered stale.
//
// Fields:
//  ID            – primary key (uuid string).
//  StudentID     – student the consent concerns.
//  GuardianEmail – email of the legal consent-giver.
//  GuardianName  – display name of the guardian.
//  Status        – pending, approved, denied or revoked.
//  Method        – how the request was initially delivered (email_link,
//                  qr_code or access_code).
//  ExpiresAt     – when an undecided request expires.
//  DecidedAt     – when a decision was recorded (nil while pending).
//  CreatedAt     – creation timestamp.
type ConsentRecord struct {
	ID            string     // consent_records.id
	StudentID     string     // consent_records.student_id
	GuardianEmail string     // consent_records.guardian_email
	GuardianName  string     // consent_records.guardian_name
	Status        string     // consent_records.status
	Method        string     // consent_records.method
	ExpiresAt     time.Time  // consent_records.expires_at
	DecidedAt     *time.Time // consent_records.decided_at (nullable)
	CreatedAt     time.Time  // consent_records.created_at
}
