package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the job lifecycle mutation being recorded
type AuditAction string

// Audit actions
const (
	AuditActionJobCreated      AuditAction = "job_created"
	AuditActionJobCancelled    AuditAction = "job_cancelled"
	AuditActionJobRetried      AuditAction = "job_retried"
	AuditActionPriorityChanged AuditAction = "priority_changed"
	AuditActionTagsChanged     AuditAction = "tags_changed"
	AuditActionJobScheduled    AuditAction = "job_scheduled"
)

// AuditEvent is a fire-and-forget record of a job mutation. The core
// never blocks on audit persistence.
type AuditEvent struct {
	ID        int64                  `json:"id" db:"id"`
	UserID    uuid.UUID              `json:"user_id" db:"user_id"`
	JobID     *uuid.UUID             `json:"job_id,omitempty" db:"job_id"`
	Action    AuditAction            `json:"action" db:"action"`
	Details   map[string]interface{} `json:"details,omitempty" db:"details"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}
