package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
)

// AuditLogRepository persists job lifecycle audit events. Callers treat
// it as fire-and-forget; audit failures never block the mutation they
// describe.
type AuditLogRepository struct {
	db *db.DB
}

// NewAuditLogRepository creates a new instance of AuditLogRepository.
func NewAuditLogRepository(database *db.DB) *AuditLogRepository {
	return &AuditLogRepository{db: database}
}

// Insert records one audit event.
func (r *AuditLogRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO job_audit_log (user_id, job_id, action, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, event.UserID, event.JobID, event.Action, details).
		Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
