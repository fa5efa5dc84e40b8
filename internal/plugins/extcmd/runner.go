package extcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/telemetry"
)

const (
	ErrCodeExecFailed = "plugin_exec_failed"
	ErrCodeTimeout    = "plugin_timeout"
)

// RunError is a failed plugin process.
type RunError struct {
	ErrCode  string
	ExitCode int
	Detail   string
}

func (e *RunError) Error() string     { return e.Detail }
func (e *RunError) ErrorCode() string { return e.ErrCode }

type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

// Runner executes plugin processes.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 4 << 20
	}
	return &Runner{cfg: cfg}
}

// Run calls the plugin executable with rule as its argument and req as JSON
// on stdin. Stderr goes to w as it is produced; stdout must hold one JSON
// value, which is returned as the result.
func (r *Runner) Run(ctx context.Context, p *Plugin, rule string, req registry.Request, w io.Writer) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.Executable, rule)
	cmd.Dir = p.Dir
	cmd.Stdin = bytes.NewReader(payload)
	stdout := &limitedBuffer{limit: r.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = w
	// Grandchildren holding the pipes open must not outlive the timeout.
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		telemetry.IncPluginTimeout(p.Manifest.Name)
		return nil, &RunError{ErrCode: ErrCodeTimeout, ExitCode: -1, Detail: fmt.Sprintf("plugin %s%s timed out after %s", p.Manifest.Name, rule, r.cfg.Timeout)}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &RunError{ErrCode: ErrCodeExecFailed, ExitCode: exitErr.ExitCode(), Detail: fmt.Sprintf("plugin %s%s failed with exit code %d", p.Manifest.Name, rule, exitErr.ExitCode())}
		}
		return nil, &RunError{ErrCode: ErrCodeExecFailed, ExitCode: -1, Detail: fmt.Sprintf("plugin %s%s: %v", p.Manifest.Name, rule, runErr)}
	}
	if stdout.truncated {
		return nil, &RunError{ErrCode: ErrCodeExecFailed, Detail: fmt.Sprintf("plugin %s%s output exceeds %d bytes", p.Manifest.Name, rule, r.cfg.MaxOutputBytes)}
	}

	out := bytes.TrimSpace(stdout.buf.Bytes())
	if len(out) == 0 {
		return nil, &RunError{ErrCode: ErrCodeExecFailed, Detail: fmt.Sprintf("plugin %s%s produced no output", p.Manifest.Name, rule)}
	}
	if !json.Valid(out) {
		return nil, &RunError{ErrCode: ErrCodeExecFailed, Detail: fmt.Sprintf("plugin %s%s output is not valid JSON", p.Manifest.Name, rule)}
	}
	return json.RawMessage(out), nil
}

// limitedBuffer keeps at most limit bytes and discards the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}
