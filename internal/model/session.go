package model

import "time"

// Data retention modes.  The Swedish terms are the policy vocabulary used
// throughout the product and are kept as the stored values.
const (
	RetentionShortTerm = "korttid" // purge after a short inactivity window
	RetentionLongTerm  = "långtid" // keep up to a year, consent permitting
)

// Cleanup job reasons.
const (
	CleanupSessionTimeout   = "session_timeout"
	CleanupConsentWithdrawn = "consent_withdrawn"
	CleanupUserRequest      = "user_request"
	CleanupPolicyChange     = "policy_change"
)

// Session tracks how long one usage session's data may live.  Either UserID
// or GuestID identifies the subject.  A session in short-term mode, or in
// long-term mode without valid consent, always carries a scheduled cleanup
// that rolls forward with activity.
//
// Fields:
//  ID               – primary key (uuid string).
//  UserID           – authenticated subject (nil for guests).
//  GuestID          – anonymous subject (nil for users).
//  RetentionMode    – korttid or långtid.
//  HasValidConsent  – consent snapshot taken at creation.
//  LastActivity     – bumped on every recorded activity.
//  ScheduledCleanup – next purge time (nil only for consented long-term
//                     sessions, whose bound lives on the cleanup job).
//  CreatedAt        – creation timestamp.
type Session struct {
	ID               string     // retention_sessions.id
	UserID           *string    // retention_sessions.user_id (nullable)
	GuestID          *string    // retention_sessions.guest_id (nullable)
	RetentionMode    string     // retention_sessions.retention_mode
	HasValidConsent  bool       // retention_sessions.has_valid_consent
	LastActivity     time.Time  // retention_sessions.last_activity
	ScheduledCleanup *time.Time // retention_sessions.scheduled_cleanup (nullable)
	CreatedAt        time.Time  // retention_sessions.created_at
}

// QuizResult is one result row appended to a session.  Result rows are the
// data actually purged under short-term retention.
type QuizResult struct {
	ID        string    // session_quiz_results.id
	SessionID string    // session_quiz_results.session_id
	QuizID    string    // session_quiz_results.quiz_id
	Score     int       // session_quiz_results.score
	MaxScore  int       // session_quiz_results.max_score
	CreatedAt time.Time // session_quiz_results.created_at
}

// CleanupJob is a scheduled purge instruction for one session.  At most one
// pending job exists per session; rescheduling replaces it.  RetentionMode is
// captured at schedule time and decides what gets purged when the job runs.
type CleanupJob struct {
	ID            string    // cleanup_jobs.id
	SessionID     string    // cleanup_jobs.session_id
	ScheduledFor  time.Time // cleanup_jobs.scheduled_for
	RetentionMode string    // cleanup_jobs.retention_mode
	Reason        string    // cleanup_jobs.reason
	CreatedAt     time.Time // cleanup_jobs.created_at
}

// RetentionStats is the operational breakdown exposed to staff dashboards.
type RetentionStats struct {
	ActiveSessions  int `json:"active_sessions"`
	ShortTerm       int `json:"short_term"`
	LongTerm        int `json:"long_term"`
	PendingCleanups int `json:"pending_cleanups"`
}
