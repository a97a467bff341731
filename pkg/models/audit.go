package models

import "time"

type AuditAction string

const (
	AuditActionInsert AuditAction = "INSERT"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionSync   AuditAction = "SYNC"
	AuditActionImport AuditAction = "IMPORT"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	Action          AuditAction    `json:"action"`
	TableName       string         `json:"table_name"`
	RecordID        string         `json:"record_id,omitempty"`
	ActorID         string         `json:"actor_id,omitempty"`
	OldData         map[string]any `json:"old_data,omitempty"`
	NewData         map[string]any `json:"new_data,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	RequestMetadata map[string]any `json:"request_metadata,omitempty"`
}

// AuditDeadLetter is an audit entry a sink failed to accept.
type AuditDeadLetter struct {
	ID       string     `json:"id"`
	Sink     string     `json:"sink"`
	Entry    AuditEntry `json:"entry"`
	Error    string     `json:"error"`
	Attempts int        `json:"attempts"`
	FailedAt time.Time  `json:"failed_at"`
	TraceID  string     `json:"trace_id,omitempty"`
}
