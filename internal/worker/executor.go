package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/services"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
)

// hashcat hash-mode ids per attack mode.
const (
	hashModePMKID     = "16800"
	hashModeHandshake = "22000"
)

// Outcome is the result of one tool invocation.
type Outcome struct {
	Cracked   []services.CrackedPair
	Exhausted bool
}

// Executor runs the cracking tool as a subprocess. The contract with
// the tool: exit code 0 means at least one hash cracked, exit code 1
// means the dictionary was exhausted without a hit. Both are successful
// runs; zero recovered credentials is a result, not an error.
type Executor struct {
	binary  string
	timeout time.Duration
}

// NewExecutor creates a new Executor around the given tool binary.
func NewExecutor(binary string, timeout time.Duration) *Executor {
	return &Executor{binary: binary, timeout: timeout}
}

// CheckAvailability probes the tool binary. A failed probe maps to
// ErrToolUnavailable so callers can pause admission instead of failing
// queued jobs one by one.
func (e *Executor) CheckAvailability(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.binary, "--version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", services.ErrToolUnavailable, e.binary, err)
	}
	debug.Debug("Cracking tool available: %s", strings.TrimSpace(string(out)))
	return nil
}

// BuildCommand assembles the tool argument list for a job. Pure so the
// exact invocation is testable without a binary present.
func (e *Executor) BuildCommand(mode models.AttackMode, capturePath, dictionaryPath, outfilePath string) ([]string, error) {
	var hashMode string
	switch mode {
	case models.AttackModePMKID:
		hashMode = hashModePMKID
	case models.AttackModeHandshake:
		hashMode = hashModeHandshake
	default:
		return nil, fmt.Errorf("unsupported attack mode %q", mode)
	}
	return []string{
		e.binary,
		"-m", hashMode,
		"-a", "0",
		"--potfile-disable",
		"--quiet",
		"-o", outfilePath,
		capturePath,
		dictionaryPath,
	}, nil
}

// Execute runs one cracking attempt inside the job timeout and returns
// the recovered credentials. A timeout kills the process group and
// surfaces as an error naming the timeout, so the job fails rather than
// hanging its worker slot.
func (e *Executor) Execute(ctx context.Context, mode models.AttackMode, capturePath, dictionaryPath, workDir string) (*Outcome, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	outfilePath := filepath.Join(workDir, "cracked.txt")

	args, err := e.BuildCommand(mode, capturePath, dictionaryPath, outfilePath)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = workDir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	// The tool runs in its own process group and the whole group is
	// killed on timeout or cancel. Killing only the direct child is not
	// enough: a wrapper script around the tool would survive and hold
	// the stderr pipe open, blocking Wait for its full natural runtime.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	debug.Info("Executing: %s", strings.Join(args, " "))
	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("job timeout after %s, process killed", e.timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exhausted := false
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 {
			// Exit 1 is the tool's exhausted-without-a-hit result.
			exhausted = true
		} else {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = runErr.Error()
			}
			return nil, fmt.Errorf("tool execution failed: %s", msg)
		}
	}

	cracked, err := parseOutfile(outfilePath)
	if err != nil {
		return nil, err
	}
	return &Outcome{Cracked: cracked, Exhausted: exhausted}, nil
}

// parseOutfile reads the tool's outfile of hash:plaintext lines. A
// missing outfile means nothing cracked. Only the first colon splits;
// plaintexts may contain colons themselves.
func parseOutfile(path string) ([]services.CrackedPair, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open outfile: %w", err)
	}
	defer file.Close()

	var pairs []services.CrackedPair
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			debug.Warning("Skipping malformed outfile line: %s", line)
			continue
		}
		pairs = append(pairs, services.CrackedPair{Hash: parts[0], Plaintext: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outfile: %w", err)
	}
	return pairs, nil
}
