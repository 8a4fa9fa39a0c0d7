package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOwnerFile(t *testing.T, root string, ownerID uuid.UUID, name string, size int) {
	t.Helper()
	dir := filepath.Join(root, ownerID.String())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestCheckQuotaAllowsWithinLimit(t *testing.T) {
	root := t.TempDir()
	ownerID := uuid.New()
	writeOwnerFile(t, root, ownerID, "capture.hc22000", 400)

	g := NewQuotaGuard([]string{root}, 1000)
	snapshot, err := g.CheckQuota(context.Background(), ownerID, 500)
	require.NoError(t, err)

	assert.Equal(t, int64(400), snapshot.UsedBytes)
	assert.Equal(t, int64(1000), snapshot.QuotaBytes)
	assert.Equal(t, int64(600), snapshot.AvailableBytes)
}

func TestCheckQuotaDeniesOverage(t *testing.T) {
	root := t.TempDir()
	ownerID := uuid.New()
	writeOwnerFile(t, root, ownerID, "words.txt", 800)

	g := NewQuotaGuard([]string{root}, 1000)
	snapshot, err := g.CheckQuota(context.Background(), ownerID, 300)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	// The denial still reports the owner's position.
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(800), snapshot.UsedBytes)

	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, int64(300), qe.RequestedBytes)
}

func TestUsageSnapshotSumsAcrossRoots(t *testing.T) {
	captures := t.TempDir()
	dictionaries := t.TempDir()
	ownerID := uuid.New()
	writeOwnerFile(t, captures, ownerID, "a.hc22000", 100)
	writeOwnerFile(t, dictionaries, ownerID, "b.txt", 250)

	// Another owner's usage must not leak in.
	writeOwnerFile(t, captures, uuid.New(), "c.hc22000", 9999)

	g := NewQuotaGuard([]string{captures, dictionaries}, 1000)
	snapshot, err := g.UsageSnapshot(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), snapshot.UsedBytes)
}

func TestUsageSnapshotMissingOwnerDir(t *testing.T) {
	g := NewQuotaGuard([]string{t.TempDir()}, 1000)
	snapshot, err := g.UsageSnapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.UsedBytes)
	assert.Equal(t, int64(1000), snapshot.AvailableBytes)
}

func TestStorageStatsBreakdown(t *testing.T) {
	root := t.TempDir()
	owner1 := uuid.New()
	owner2 := uuid.New()
	writeOwnerFile(t, root, owner1, "a.txt", 100)
	writeOwnerFile(t, root, owner2, "b.txt", 200)

	g := NewQuotaGuard([]string{root}, 1000)
	stats, err := g.StorageStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(300), stats.TotalBytes)
	assert.Equal(t, int64(100), stats.PerOwner[owner1.String()])
	assert.Equal(t, int64(200), stats.PerOwner[owner2.String()])
}
