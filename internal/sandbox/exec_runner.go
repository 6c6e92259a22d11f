package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/mattjoyce/hackscore/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a run.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ExecRunner runs each evaluation as a subprocess. The request is written as
// JSON to stdin and the result is read as JSON from stdout.
type ExecRunner struct {
	argv      []string
	grace     time.Duration
	killGrace time.Duration
	logger    *slog.Logger
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner parses command with shell quoting rules. grace is added on
// top of the request timeout before the runner is terminated.
func NewExecRunner(command string, grace time.Duration) (*ExecRunner, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse sandbox command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("sandbox command is empty")
	}
	return &ExecRunner{
		argv:      argv,
		grace:     grace,
		killGrace: terminationGracePeriod,
		logger:    log.WithComponent("sandbox"),
	}, nil
}

// Run spawns the runner and waits for its result. If the runner outlives
// TimeoutSeconds plus the grace period it is terminated and a TimedOut result
// is returned. A non-positive TimeoutSeconds is an error result; the runner
// is not spawned.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.TimeoutSeconds <= 0 {
		return Result{Error: fmt.Sprintf("timeout_seconds must be positive, got %d", req.TimeoutSeconds)}, nil
	}
	req.Protocol = ProtocolVersion
	logger := r.logger.With("run_id", req.RunID)

	timeout := time.Duration(req.TimeoutSeconds)*time.Second + r.grace
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed here rather than through CommandContext.
	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	cmd.WaitDelay = r.killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning runner", "command", r.argv[0], "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start runner: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- EncodeRequest(stdin, &req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("runner timed out, sending SIGTERM", "timeout", timeout)
		r.terminate(cmd, waitErr, logger)
		return Result{TimedOut: true, Stderr: truncateStderr(stderr.String())}, nil

	case <-ctx.Done():
		logger.Warn("run cancelled, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return Result{}, ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		werr := <-writeErr

		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return Result{}, fmt.Errorf("wait for runner: %w", err)
			}
			exitCode = exitErr.ExitCode()
			logger.Warn("runner exited with non-zero status", "exit_code", exitCode)
		}

		res, raw, derr := DecodeResult(bytes.NewReader(stdout.Bytes()))
		if derr == nil {
			res.Stderr = stderrStr
			return *res, nil
		}
		if exitCode != 0 {
			return Result{
				Error:  fmt.Sprintf("runner exited with status %d", exitCode),
				Stderr: stderrStr,
			}, nil
		}
		if werr != nil {
			return Result{}, fmt.Errorf("write request: %w", werr)
		}
		logger.Error("failed to decode runner result", "error", derr, "stdout", string(raw))
		return Result{}, fmt.Errorf("decode result: %w", derr)
	}
}

func (r *ExecRunner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(r.killGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("runner exited after SIGTERM")
	case <-grace.C:
		logger.Warn("runner did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
