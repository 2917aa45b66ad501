package model

import "time"

// Notification types.
const (
	NotifyConsentRequest  = "consent_request"
	NotifyConsentReminder = "consent_reminder"
	NotifyConsentApproved = "consent_approved"
	NotifyConsentDenied   = "consent_denied"
	NotifyConsentRevoked  = "consent_revoked"
)

// Notification delivery statuses.  A record only ever moves pending -> sent
// or pending -> failed; delivery confirmation is not modeled.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// ConsentNotification records one outbound message attempt to a guardian.
// The record is written before the delivery attempt and survives a failed
// send so staff can inspect and retry.
type ConsentNotification struct {
	ID          string     // consent_notifications.id
	Type        string     // consent_notifications.type
	StudentID   string     // consent_notifications.student_id
	ParentEmail string     // consent_notifications.parent_email
	ParentName  string     // consent_notifications.parent_name
	ConsentID   string     // consent_notifications.consent_id
	Status      string     // consent_notifications.status
	Method      string     // consent_notifications.method (currently always "email")
	Subject     string     // consent_notifications.subject
	Body        string     // consent_notifications.body
	ActionURL   *string    // consent_notifications.action_url (nullable)
	ExpiresAt   *time.Time // consent_notifications.expires_at (nullable)
	SentAt      *time.Time // consent_notifications.sent_at (nullable)
	CreatedAt   time.Time  // consent_notifications.created_at
}
