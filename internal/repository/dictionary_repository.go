package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const dictionaryColumns = `
	id, user_id, name, file_path, file_size, word_count, md5_hash,
	dictionary_type, status, provenance, created_at, updated_at`

// DictionaryRepository handles database operations for dictionaries.
type DictionaryRepository struct {
	db *db.DB
}

// NewDictionaryRepository creates a new instance of DictionaryRepository.
func NewDictionaryRepository(database *db.DB) *DictionaryRepository {
	return &DictionaryRepository{db: database}
}

func scanDictionary(row rowScanner) (*models.Dictionary, error) {
	var d models.Dictionary
	var provenance []byte

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.FilePath,
		&d.FileSize,
		&d.WordCount,
		&d.MD5Hash,
		&d.Type,
		&d.Status,
		&provenance,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(provenance) > 0 {
		var p models.DictionaryProvenance
		if err := json.Unmarshal(provenance, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dictionary provenance: %w", err)
		}
		d.Provenance = &p
	}
	return &d, nil
}

// Create inserts a new dictionary record and updates d.ID, CreatedAt
// and UpdatedAt from the returned row.
func (r *DictionaryRepository) Create(ctx context.Context, d *models.Dictionary) error {
	var provenance []byte
	if d.Provenance != nil {
		var err error
		provenance, err = json.Marshal(d.Provenance)
		if err != nil {
			return fmt.Errorf("failed to marshal dictionary provenance: %w", err)
		}
	}

	query := `
		INSERT INTO dictionaries (user_id, name, file_path, file_size, word_count, md5_hash, dictionary_type, status, provenance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		d.UserID,
		d.Name,
		d.FilePath,
		d.FileSize,
		d.WordCount,
		d.MD5Hash,
		d.Type,
		d.Status,
		provenance,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dictionary: %w", err)
	}
	return nil
}

// GetByID retrieves a dictionary by id scoped to its owner.
func (r *DictionaryRepository) GetByID(ctx context.Context, userID, dictionaryID uuid.UUID) (*models.Dictionary, error) {
	query := `SELECT` + dictionaryColumns + ` FROM dictionaries WHERE id = $1 AND user_id = $2`
	d, err := scanDictionary(r.db.QueryRowContext(ctx, query, dictionaryID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("dictionary %s: %w", dictionaryID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dictionary %s: %w", dictionaryID, err)
	}
	return d, nil
}

// ListByIDs retrieves the given dictionaries scoped to one owner, in no
// particular order. A missing or foreign id simply does not appear in
// the result; callers compare lengths to detect it.
func (r *DictionaryRepository) ListByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*models.Dictionary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT` + dictionaryColumns + ` FROM dictionaries WHERE user_id = $1 AND id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list dictionaries: %w", err)
	}
	defer rows.Close()

	var dictionaries []*models.Dictionary
	for rows.Next() {
		d, err := scanDictionary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dictionary: %w", err)
		}
		dictionaries = append(dictionaries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dictionaries: %w", err)
	}
	return dictionaries, nil
}

// UpdateStatusAndStats finalizes a materializing dictionary with its
// file stats, or marks it failed.
func (r *DictionaryRepository) UpdateStatusAndStats(ctx context.Context, id uuid.UUID, status models.DictionaryStatus, fileSize, wordCount int64, md5Hash string) error {
	query := `
		UPDATE dictionaries
		SET status = $2, file_size = $3, word_count = $4, md5_hash = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, status, fileSize, wordCount, md5Hash)
	if err != nil {
		return fmt.Errorf("failed to update dictionary %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("dictionary %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a dictionary row. The caller is responsible for
// removing the backing file first.
func (r *DictionaryRepository) Delete(ctx context.Context, userID, dictionaryID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM dictionaries WHERE id = $1 AND user_id = $2`, dictionaryID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete dictionary %s: %w", dictionaryID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("dictionary %s: %w", dictionaryID, ErrNotFound)
	}
	return nil
}
