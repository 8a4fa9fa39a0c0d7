package models

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitionsHelpers(t *testing.T) {
	tests := []struct {
		status    JobStatus
		terminal  bool
		absorbing bool
	}{
		{JobStatusPending, false, false},
		{JobStatusScheduled, false, false},
		{JobStatusRunning, false, false},
		{JobStatusCompleted, true, true},
		{JobStatusFailed, true, false},
		{JobStatusCancelled, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.absorbing, tt.status.IsAbsorbing())
		})
	}
}

func TestJobPriorityWeightOrdering(t *testing.T) {
	assert.Greater(t, JobPriorityCritical.Weight(), JobPriorityHigh.Weight())
	assert.Greater(t, JobPriorityHigh.Weight(), JobPriorityNormal.Weight())
	assert.Greater(t, JobPriorityNormal.Weight(), JobPriorityLow.Weight())

	assert.True(t, JobPriorityLow.Valid())
	assert.False(t, JobPriority("urgent").Valid())
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{
			name: "lowercases and trims",
			in:   []string{"  Office ", "WPA2"},
			want: []string{"office", "wpa2"},
		},
		{
			name: "deduplicates case insensitively",
			in:   []string{"office", "Office", "OFFICE"},
			want: []string{"office"},
		},
		{
			name: "drops empty entries",
			in:   []string{"", "  ", "site-a"},
			want: []string{"site-a"},
		},
		{
			name:    "rejects overlong tag",
			in:      []string{strings.Repeat("x", MaxTagLength+1)},
			wantErr: true,
		},
		{
			name: "rejects too many tags",
			in: []string{
				"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTags(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobConfigRoundTrip(t *testing.T) {
	mergedID := uuid.New()
	cfg := &JobConfig{
		Kind:               JobConfigConsolidated,
		TargetIDs:          []uuid.UUID{uuid.New(), uuid.New()},
		DictionaryIDs:      []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		MergedDictionaryID: &mergedID,
		AggregateWordCount: 123456,
		TargetCapturePaths: []string{"/data/captures/a.hc22000", "/data/captures/b.hc22000"},
	}

	data, err := MarshalConfig(cfg)
	require.NoError(t, err)

	decoded, err := UnmarshalConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
	assert.True(t, decoded.IsConsolidated())
}

func TestUnmarshalConfigDefaults(t *testing.T) {
	// A job predating the config column decodes as a simple job.
	cfg, err := UnmarshalConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, JobConfigSimple, cfg.Kind)
	assert.False(t, cfg.IsConsolidated())

	cfg, err = UnmarshalConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, JobConfigSimple, cfg.Kind)
}

func TestAttackModeValid(t *testing.T) {
	assert.True(t, AttackModePMKID.Valid())
	assert.True(t, AttackModeHandshake.Valid())
	assert.False(t, AttackMode("wep").Valid())
}
