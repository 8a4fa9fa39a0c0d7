package models

import (
	"time"

	"github.com/google/uuid"
)

// DictionaryType represents the provenance of a dictionary
type DictionaryType string

// Dictionary types
const (
	DictionaryTypeUploaded  DictionaryType = "uploaded"
	DictionaryTypeGenerated DictionaryType = "generated"
	DictionaryTypeMerged    DictionaryType = "merged"
)

// DictionaryStatus represents the materialization state of a dictionary
type DictionaryStatus string

// Dictionary statuses
const (
	DictionaryStatusReady      DictionaryStatus = "ready"
	DictionaryStatusProcessing DictionaryStatus = "processing"
	DictionaryStatusFailed     DictionaryStatus = "failed"
)

// Dictionary represents a named, content-addressed word list. Rows are
// immutable once ready; merge and clean operations create new rows.
type Dictionary struct {
	ID         uuid.UUID             `json:"id" db:"id"`
	UserID     uuid.UUID             `json:"user_id" db:"user_id"`
	Name       string                `json:"name" db:"name"`
	FilePath   string                `json:"file_path" db:"file_path"`
	FileSize   int64                 `json:"file_size" db:"file_size"`
	WordCount  int64                 `json:"word_count" db:"word_count"`
	MD5Hash    string                `json:"md5_hash" db:"md5_hash"`
	Type       DictionaryType        `json:"dictionary_type" db:"dictionary_type"`
	Status     DictionaryStatus      `json:"status" db:"status"`
	Provenance *DictionaryProvenance `json:"provenance,omitempty" db:"provenance"`
	CreatedAt  time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at" db:"updated_at"`
}

// DictionaryProvenance records how a generated dictionary was derived,
// for reproducibility and audit.
type DictionaryProvenance struct {
	SourceIDs        []uuid.UUID `json:"source_ids"`
	RemoveDuplicates bool        `json:"remove_duplicates"`
	MinLength        int         `json:"min_length,omitempty"`
	MaxLength        int         `json:"max_length,omitempty"`
	ExcludePattern   string      `json:"exclude_pattern,omitempty"`
}

// MergeRules holds the optional filters applied during a merge.
type MergeRules struct {
	MinLength      int    `json:"min_length"`
	MaxLength      int    `json:"max_length"`
	ExcludePattern string `json:"exclude_pattern"`
}

// CleanReport summarizes a validate/clean pass over a dictionary. At
// most the first 100 invalid and duplicate samples are retained for
// operator review.
type CleanReport struct {
	Dictionary       *Dictionary `json:"dictionary"`
	TotalLines       int64       `json:"total_lines"`
	ValidWords       int64       `json:"valid_words"`
	InvalidWords     int64       `json:"invalid_words"`
	DuplicateWords   int64       `json:"duplicate_words"`
	InvalidSamples   []string    `json:"invalid_samples"`
	DuplicateSamples []string    `json:"duplicate_samples"`
}
