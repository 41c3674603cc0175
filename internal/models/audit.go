package models

import "time"

// Audit action labels recorded by the issue lifecycle.
const (
	AuditActionIssueAssigned = "Issue assigned"
	AuditActionStatusChanged = "Status changed"
	AuditActionGradeUpdated  = "Grade updated"
)

// AuditValueNone is recorded when a field had no prior value.
const AuditValueNone = "None"

// AuditLogEntry is one append-only record of a field-level change to an issue.
// Entries are never updated or deleted.
type AuditLogEntry struct {
	ID        string    `db:"id" json:"id"`
	IssueID   string    `db:"issue_id" json:"issue_id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Action    string    `db:"action" json:"action"`
	OldValue  string    `db:"old_value" json:"old_value"`
	NewValue  string    `db:"new_value" json:"new_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditLogDetail enriches an entry with the actor's display name.
type AuditLogDetail struct {
	AuditLogEntry
	ActorName string `db:"actor_name" json:"actor_name"`
}
