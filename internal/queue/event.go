// Package queue defines message payloads exchanged over the message broker.
package queue

// DataPurgedEvent is published whenever a cleanup job erases a session's
// stored data. It carries enough information for the audit consumer to log
// the purge without querying the primary database.
type DataPurgedEvent struct {
	SessionID     string   `json:"session_id"`
	UserID        string   `json:"user_id,omitempty"`
	GuestID       string   `json:"guest_id,omitempty"`
	RetentionMode string   `json:"retention_mode"`
	Reason        string   `json:"reason"`
	DataTypes     []string `json:"data_types"`
	ResultCount   int64    `json:"result_count"`
	PurgedAt      string   `json:"purged_at"`
}
