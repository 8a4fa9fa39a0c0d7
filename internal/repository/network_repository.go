package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const networkColumns = `
	id, user_id, ssid, bssid, capture_path, status, password, cracked_at,
	created_at, updated_at`

// NetworkRepository handles database operations for capture targets.
type NetworkRepository struct {
	db *db.DB
}

// NewNetworkRepository creates a new instance of NetworkRepository.
func NewNetworkRepository(database *db.DB) *NetworkRepository {
	return &NetworkRepository{db: database}
}

func scanNetwork(row rowScanner) (*models.Network, error) {
	var n models.Network
	var password sql.NullString
	var crackedAt sql.NullTime

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.SSID,
		&n.BSSID,
		&n.CapturePath,
		&n.Status,
		&password,
		&crackedAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if password.Valid {
		n.Password = &password.String
	}
	if crackedAt.Valid {
		n.CrackedAt = &crackedAt.Time
	}
	return &n, nil
}

// Create inserts a new network record.
func (r *NetworkRepository) Create(ctx context.Context, n *models.Network) error {
	query := `
		INSERT INTO networks (user_id, ssid, bssid, capture_path, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, n.UserID, n.SSID, n.BSSID, n.CapturePath, n.Status).
		Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	return nil
}

// GetByID retrieves a network by id scoped to its owner.
func (r *NetworkRepository) GetByID(ctx context.Context, userID, networkID uuid.UUID) (*models.Network, error) {
	query := `SELECT` + networkColumns + ` FROM networks WHERE id = $1 AND user_id = $2`
	n, err := scanNetwork(r.db.QueryRowContext(ctx, query, networkID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("network %s: %w", networkID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get network %s: %w", networkID, err)
	}
	return n, nil
}

// ListByIDs retrieves the given networks scoped to one owner. Missing
// or foreign ids are absent from the result.
func (r *NetworkRepository) ListByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*models.Network, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT` + networkColumns + ` FROM networks WHERE user_id = $1 AND id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	defer rows.Close()

	var networks []*models.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		networks = append(networks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate networks: %w", err)
	}
	return networks, nil
}

// MarkCracked records a recovered credential exactly once. The update
// is guarded on password IS NULL so a later duplicate hit can never
// overwrite an existing credential; the first writer wins. Returns
// false when a credential was already present.
func (r *NetworkRepository) MarkCracked(ctx context.Context, networkID uuid.UUID, password string) (bool, error) {
	query := `
		UPDATE networks
		SET status = 'cracked', password = $2, cracked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND password IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, networkID, password)
	if err != nil {
		return false, fmt.Errorf("failed to mark network %s cracked: %w", networkID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check crack of network %s: %w", networkID, err)
	}
	return rows > 0, nil
}

// UpdateStatus sets the cracking status of a network without touching
// any stored credential.
func (r *NetworkRepository) UpdateStatus(ctx context.Context, networkID uuid.UUID, status models.NetworkStatus) error {
	query := `UPDATE networks SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, networkID, status)
	if err != nil {
		return fmt.Errorf("failed to update network %s status: %w", networkID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("network %s: %w", networkID, ErrNotFound)
	}
	return nil
}
