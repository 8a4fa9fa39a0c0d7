package services

import (
	"errors"
	"fmt"
)

// Domain errors surfaced by the coordinator. NotFound comes from the
// repository layer; merge-specific errors from the dictionary package.
var (
	// ErrNotFailed means a retry was requested for a job that is not in
	// the failed state. failed -> pending is the only resurrection path.
	ErrNotFailed = errors.New("job is not in failed state")
	// ErrNotMutable means the requested mutation is rejected in the
	// job's current status (e.g. priority change after admission).
	ErrNotMutable = errors.New("job is not mutable in its current state")
	// ErrToolUnavailable means the cracking tool itself is missing or
	// unreachable, as opposed to a job-specific execution failure.
	// Admission pauses system-wide rather than failing every queued job.
	ErrToolUnavailable = errors.New("cracking tool unavailable")
)

// QuotaSnapshot reports an owner's storage position in bytes.
type QuotaSnapshot struct {
	UsedBytes      int64 `json:"used_bytes"`
	QuotaBytes     int64 `json:"quota_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// QuotaExceededError denies a write that would push an owner over
// quota. It carries the current snapshot so callers can report the
// exact overage.
type QuotaExceededError struct {
	RequestedBytes int64
	Snapshot       QuotaSnapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d bytes with %d of %d used",
		e.RequestedBytes, e.Snapshot.UsedBytes, e.Snapshot.QuotaBytes)
}

// IsQuotaExceeded reports whether err is a quota denial.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
