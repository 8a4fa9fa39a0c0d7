package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	e := NewExecutor("hashcat", time.Hour)

	tests := []struct {
		name     string
		mode     models.AttackMode
		wantMode string
		wantErr  bool
	}{
		{name: "pmkid", mode: models.AttackModePMKID, wantMode: "16800"},
		{name: "handshake", mode: models.AttackModeHandshake, wantMode: "22000"},
		{name: "unknown mode", mode: models.AttackMode("wep"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := e.BuildCommand(tt.mode, "/data/capture.hc22000", "/data/words.txt", "/tmp/out.txt")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{
				"hashcat",
				"-m", tt.wantMode,
				"-a", "0",
				"--potfile-disable",
				"--quiet",
				"-o", "/tmp/out.txt",
				"/data/capture.hc22000",
				"/data/words.txt",
			}, args)
		})
	}
}

func TestParseOutfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cracked.txt")
	content := "WPA*02*abc*aabbccddeeff*112233445566*4f666669636531:hunter2\n" +
		"PMKID*aabbccddeeff*112233445566*4f666669636532:pass:with:colons\n" +
		"malformed-line-without-separator\n" +
		"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pairs, err := parseOutfile(path)
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Equal(t, services.CrackedPair{
		Hash:      "WPA*02*abc*aabbccddeeff*112233445566*4f666669636531",
		Plaintext: "hunter2",
	}, pairs[0])
	// Only the first colon separates hash from plaintext.
	assert.Equal(t, "pass:with:colons", pairs[1].Plaintext)
}

func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecuteTimeoutKillsForkingTool(t *testing.T) {
	// The tool forks; the child inherits stderr. The whole group must
	// die on timeout, or Wait blocks on the pipe until the child exits
	// on its own.
	tool := writeTool(t, "sleep 30 &\nsleep 30\n")
	e := NewExecutor(tool, 500*time.Millisecond)

	start := time.Now()
	_, err := e.Execute(context.Background(), models.AttackModeHandshake,
		"/data/capture.hc22000", "/data/words.txt", filepath.Join(t.TempDir(), "work"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, elapsed, 5*time.Second, "process must be killed, not awaited")
}

func TestExecuteCancelKillsProcess(t *testing.T) {
	tool := writeTool(t, "sleep 30\n")
	e := NewExecutor(tool, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Execute(ctx, models.AttackModeHandshake,
		"/data/capture.hc22000", "/data/words.txt", filepath.Join(t.TempDir(), "work"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestParseOutfileMissing(t *testing.T) {
	// No outfile means the run cracked nothing, which is not an error.
	pairs, err := parseOutfile(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Nil(t, pairs)
}
