package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// DefaultWorkerTimeout bounds one fetch-worker run; on expiry the process
// is killed and the request fails.
const DefaultWorkerTimeout = 10 * time.Minute

// WorkerRunner implements domain.FetchWorker by spawning an isolated
// subprocess with the package id as its sole extra argument. The worker
// prints exactly one JSON line as the final line of its standard output.
type WorkerRunner struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewWorkerRunner creates a worker runner for the given command, e.g.
// {"python3", "scraper.py"}.
func NewWorkerRunner(command []string, timeout time.Duration, logger *zap.Logger) *WorkerRunner {
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}
	return &WorkerRunner{command: command, timeout: timeout, logger: logger}
}

// Fetch runs the worker for one package id, collecting its output streams
// until it exits.
func (w *WorkerRunner) Fetch(ctx context.Context, appID string) (*domain.WorkerReport, error) {
	if len(w.command) == 0 {
		return nil, fmt.Errorf("worker command not configured: %w", domain.ErrWorkerFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	args := append(append([]string{}, w.command[1:]...), appID)
	cmd := exec.CommandContext(ctx, w.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.logger.Info("starting fetch worker", zap.String("app_id", appID))
	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		w.logger.Error("fetch worker timed out",
			zap.String("app_id", appID),
			zap.Duration("timeout", w.timeout))
		return nil, fmt.Errorf("fetch worker timed out after %s: %w", w.timeout, domain.ErrWorkerFailed)
	}
	if err != nil {
		w.logger.Error("fetch worker exited with error",
			zap.String("app_id", appID),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		return nil, fmt.Errorf("fetch worker: %v: %w", err, domain.ErrWorkerFailed)
	}

	line := lastLine(stdout.String())
	var report domain.WorkerReport
	if err := json.Unmarshal([]byte(line), &report); err != nil {
		return nil, fmt.Errorf("parse worker output %q: %w", line, domain.ErrMalformedOutput)
	}
	return &report, nil
}

// lastLine returns the final non-empty line of output.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
