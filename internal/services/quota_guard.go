package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// QuotaGuard gates storage writes against a per-owner byte quota.
// Owner usage is the recursive size of the owner's subdirectory under
// each configured root (captures, dictionaries). Accounting failures
// deny rather than silently allowing unbounded growth.
type QuotaGuard struct {
	roots      []string
	quotaBytes int64
}

// StorageStats is the system-wide storage breakdown.
type StorageStats struct {
	TotalBytes int64            `json:"total_bytes"`
	PerOwner   map[string]int64 `json:"per_owner"`
}

// NewQuotaGuard creates a QuotaGuard over the given storage roots.
func NewQuotaGuard(roots []string, quotaBytes int64) *QuotaGuard {
	return &QuotaGuard{roots: roots, quotaBytes: quotaBytes}
}

// CheckQuota allows or denies a write of requestedBytes for ownerID.
// Denial is a QuotaExceededError carrying the current snapshot. An
// unreadable directory fails closed.
func (g *QuotaGuard) CheckQuota(ctx context.Context, ownerID uuid.UUID, requestedBytes int64) (*QuotaSnapshot, error) {
	snapshot, err := g.UsageSnapshot(ctx, ownerID)
	if err != nil {
		// Fail closed: a broken accounting path must not grant
		// unlimited storage.
		return nil, fmt.Errorf("quota check failed, denying write: %w", err)
	}
	if snapshot.UsedBytes+requestedBytes > snapshot.QuotaBytes {
		return snapshot, &QuotaExceededError{
			RequestedBytes: requestedBytes,
			Snapshot:       *snapshot,
		}
	}
	return snapshot, nil
}

// UsageSnapshot returns the owner's current usage, quota, and headroom.
func (g *QuotaGuard) UsageSnapshot(ctx context.Context, ownerID uuid.UUID) (*QuotaSnapshot, error) {
	var used int64
	for _, root := range g.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, err := dirSize(filepath.Join(root, ownerID.String()))
		if err != nil {
			return nil, err
		}
		used += size
	}
	return &QuotaSnapshot{
		UsedBytes:      used,
		QuotaBytes:     g.quotaBytes,
		AvailableBytes: g.quotaBytes - used,
	}, nil
}

// StorageStats returns total usage and a per-owner breakdown across all
// storage roots. Owner keys are the per-owner directory names.
func (g *QuotaGuard) StorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{PerOwner: make(map[string]int64)}
	for _, root := range g.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read storage root %s: %w", root, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !entry.IsDir() {
				continue
			}
			size, err := dirSize(filepath.Join(root, entry.Name()))
			if err != nil {
				return nil, err
			}
			stats.PerOwner[entry.Name()] += size
			stats.TotalBytes += size
		}
	}
	return stats, nil
}

// dirSize sums file sizes under dir. A missing directory counts as
// zero; any other error propagates so the caller can fail closed.
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	debug.Debug("Directory %s uses %d bytes", dir, size)
	return size, nil
}
