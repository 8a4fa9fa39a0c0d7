package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

// Job statuses
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted out of
// the status, except the explicit failed -> pending retry path.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsAbsorbing reports whether the status can never be left again.
func (s JobStatus) IsAbsorbing() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// JobPriority represents scheduling priority
type JobPriority string

// Job priorities
const (
	JobPriorityLow      JobPriority = "low"
	JobPriorityNormal   JobPriority = "normal"
	JobPriorityHigh     JobPriority = "high"
	JobPriorityCritical JobPriority = "critical"
)

// Weight returns the numeric ordering weight used by the admission
// query (higher runs first).
func (p JobPriority) Weight() int {
	switch p {
	case JobPriorityCritical:
		return 3
	case JobPriorityHigh:
		return 2
	case JobPriorityNormal:
		return 1
	case JobPriorityLow:
		return 0
	}
	return -1
}

// Valid reports whether p is a known priority value.
func (p JobPriority) Valid() bool {
	return p.Weight() >= 0
}

// AttackMode selects the hashcat invocation variant
type AttackMode string

// Attack modes
const (
	AttackModePMKID     AttackMode = "pmkid"
	AttackModeHandshake AttackMode = "handshake"
)

// Valid reports whether m is a known attack mode.
func (m AttackMode) Valid() bool {
	return m == AttackModePMKID || m == AttackModeHandshake
}

// Tag constraints
const (
	MaxTagsPerJob = 10
	MaxTagLength  = 50
)

// NormalizeTags lowercases, trims and deduplicates tags, enforcing the
// count and length limits.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if len(tag) > MaxTagLength {
			return nil, fmt.Errorf("tag %q exceeds %d characters", tag, MaxTagLength)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	if len(normalized) > MaxTagsPerJob {
		return nil, fmt.Errorf("too many tags: %d (max %d)", len(normalized), MaxTagsPerJob)
	}
	return normalized, nil
}

// JobConfigKind discriminates the JobConfig variant
type JobConfigKind string

// Job config kinds
const (
	JobConfigSimple       JobConfigKind = "simple"
	JobConfigConsolidated JobConfigKind = "consolidated"
)

// JobConfig is the tagged consolidation record stored on the job row.
// A simple job carries only the kind; a consolidated job records the
// original request so it can be decomposed for reporting.
type JobConfig struct {
	Kind JobConfigKind `json:"kind"`

	// Consolidated fields
	TargetIDs            []uuid.UUID `json:"target_ids,omitempty"`
	DictionaryIDs        []uuid.UUID `json:"dictionary_ids,omitempty"`
	MergedDictionaryID   *uuid.UUID  `json:"merged_dictionary_id,omitempty"`
	AggregateWordCount   int64       `json:"aggregate_word_count,omitempty"`
	TargetCapturePaths   []string    `json:"target_capture_paths,omitempty"`
}

// IsConsolidated reports whether the job was created from multiple
// targets and/or dictionaries.
func (c *JobConfig) IsConsolidated() bool {
	return c != nil && c.Kind == JobConfigConsolidated
}

// MarshalConfig serializes a JobConfig for the JSONB column.
func MarshalConfig(cfg *JobConfig) ([]byte, error) {
	if cfg == nil {
		cfg = &JobConfig{Kind: JobConfigSimple}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}
	return data, nil
}

// UnmarshalConfig decodes the JSONB column once at the data-access
// boundary so downstream code never touches untyped maps.
func UnmarshalConfig(data []byte) (*JobConfig, error) {
	if len(data) == 0 {
		return &JobConfig{Kind: JobConfigSimple}, nil
	}
	var cfg JobConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	if cfg.Kind == "" {
		cfg.Kind = JobConfigSimple
	}
	return &cfg, nil
}

// Job is the unit of scheduling.
type Job struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       uuid.UUID   `json:"user_id" db:"user_id"`
	NetworkID    uuid.UUID   `json:"network_id" db:"network_id"`
	DictionaryID uuid.UUID   `json:"dictionary_id" db:"dictionary_id"`
	AttackMode   AttackMode  `json:"attack_mode" db:"attack_mode"`
	Status       JobStatus   `json:"status" db:"status"`
	Priority     JobPriority `json:"priority" db:"priority"`
	Tags         []string    `json:"tags" db:"tags"`
	Progress     int         `json:"progress" db:"progress"`
	ErrorMessage *string     `json:"error_message,omitempty" db:"error_message"`
	Config       *JobConfig  `json:"config,omitempty" db:"config"`
	LeaseToken   *uuid.UUID  `json:"-" db:"lease_token"`
	LeasePID     *int        `json:"-" db:"lease_pid"`
	ScheduledAt  *time.Time  `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// JobStats aggregates per-status job counts for one owner.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// BulkCancelSummary reports the outcome of a bulk cancel so a partial
// result is fully diagnosable from the response alone.
type BulkCancelSummary struct {
	Cancelled       int `json:"cancelled"`
	SkippedNotFound int `json:"skipped_not_found"`
	SkippedNotOwned int `json:"skipped_not_owned"`
	SkippedTerminal int `json:"skipped_terminal"`
}
