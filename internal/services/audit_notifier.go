package services

import (
	"context"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// AuditSink persists audit events. The repository implementation backs
// it in production; the audit store itself is an external collaborator.
type AuditSink interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
}

// AuditNotifier records job lifecycle mutations fire-and-forget: the
// mutation never blocks on, or fails because of, audit persistence.
type AuditNotifier struct {
	sink AuditSink
}

// NewAuditNotifier creates a new AuditNotifier. A nil sink disables
// auditing.
func NewAuditNotifier(sink AuditSink) *AuditNotifier {
	return &AuditNotifier{sink: sink}
}

// Notify records one event asynchronously.
func (n *AuditNotifier) Notify(userID uuid.UUID, jobID *uuid.UUID, action models.AuditAction, details map[string]interface{}) {
	if n == nil || n.sink == nil {
		return
	}
	event := &models.AuditEvent{
		UserID:  userID,
		JobID:   jobID,
		Action:  action,
		Details: details,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.sink.Insert(ctx, event); err != nil {
			debug.Warning("Failed to record audit event %s: %v", action, err)
		}
	}()
}
