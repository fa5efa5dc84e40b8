// Package core runs registered commands and owns the cross-cutting
// services around them: policy, audit, artifacts and receipts.
package core

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rescuebox/rescuebox/internal/capture"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
	"github.com/rescuebox/rescuebox/internal/telemetry"
)

// DefaultStreamThrottle is the pause between two streamed envelopes.
const DefaultStreamThrottle = 10 * time.Millisecond

const (
	ModeStatic = "static"
	ModeStream = "stream"
	ModeRead   = "read"

	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Outcome is the result of one static invocation.
type Outcome struct {
	Success bool           `json:"success"`
	Result  *response.Body `json:"result"`
	Stdout  []string       `json:"stdout"`
	Error   string         `json:"error,omitempty"`

	InvocationID string `json:"invocation_id"`
	EvidenceHash string `json:"evidence_hash,omitempty"`
	Receipt      string `json:"-"`

	cause error
}

// Cause returns the error behind a failed outcome.
func (o Outcome) Cause() error { return o.cause }

// ExecutorConfig tunes an Executor. A zero StreamThrottle means
// DefaultStreamThrottle and a negative one disables the pause. A zero
// Timeout or MaxConcurrent means no limit.
type ExecutorConfig struct {
	Mode           ConcurrencyMode
	MaxConcurrent  int
	StreamThrottle time.Duration
	Timeout        time.Duration
	Recorder       Recorder
	Logger         *slog.Logger
}

// Executor runs registry commands with per-invocation output capture and
// turns their results into envelopes.
type Executor struct {
	cfg    ExecutorConfig
	sem    chan struct{}
	logger *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = ConcurrencyIsolated
	}
	if cfg.StreamThrottle == 0 {
		cfg.StreamThrottle = DefaultStreamThrottle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Executor{cfg: cfg, logger: logger}
	switch {
	case cfg.Mode == ConcurrencySerialize:
		e.sem = make(chan struct{}, 1)
	case cfg.MaxConcurrent > 0:
		e.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return e
}

func (e *Executor) Config() ExecutorConfig { return e.cfg }

func (e *Executor) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// RunStatic invokes cmd with its output captured and returns the outcome.
// Handler errors and panics never escape: they become a failed outcome.
func (e *Executor) RunStatic(ctx context.Context, cmd registry.Command, req registry.Request) Outcome {
	return e.runStatic(ctx, cmd, req, nil)
}

// RunStaticLive is RunStatic that also copies the handler's output to live
// as it is written.
func (e *Executor) RunStaticLive(ctx context.Context, cmd registry.Command, req registry.Request, live io.Writer) Outcome {
	return e.runStatic(ctx, cmd, req, live)
}

func (e *Executor) runStatic(ctx context.Context, cmd registry.Command, req registry.Request, live io.Writer) Outcome {
	start := time.Now()
	out := Outcome{InvocationID: uuid.New().String(), Stdout: []string{}}

	release, err := e.acquire(ctx)
	if err != nil {
		out.fail(err)
		e.finish(ctx, cmd, ModeStatic, req, &out, time.Since(start))
		return out
	}
	defer release()

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	var sink capture.Buffer
	var w io.Writer = &sink
	if live != nil {
		w = io.MultiWriter(&sink, live)
	}
	value, err := invokeSafely(runCtx, cmd, w, req)
	out.Stdout = sink.Lines()
	if out.Stdout == nil {
		out.Stdout = []string{}
	}

	if err != nil {
		out.fail(err)
	} else if body, nerr := response.Normalize(value); nerr != nil {
		telemetry.IncInvalidReturn(cmd.Path)
		e.logger.Warn("handler returned an unsupported type",
			"command", cmd.Path,
			"invocation_id", out.InvocationID,
			"type", typeName(value),
		)
		out.Error = nerr.Error()
		out.cause = nerr
	} else {
		out.Success = true
		out.Result = &body
	}

	e.finish(ctx, cmd, ModeStatic, req, &out, time.Since(start))
	return out
}

func (o *Outcome) fail(err error) {
	o.Success = false
	o.Error = err.Error()
	o.cause = err
}

// RunRead invokes a read command. Its result is returned as is.
func (e *Executor) RunRead(ctx context.Context, cmd registry.Command) (any, error) {
	start := time.Now()
	value, err := invokeSafely(ctx, cmd, io.Discard, registry.Request{})
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	telemetry.IncInvocation(cmd.Path, ModeRead, status)
	telemetry.ObserveInvocationDuration(cmd.Path, time.Since(start))
	return value, err
}

// RunStreaming invokes cmd and yields one envelope per line it writes, as
// the lines are written. A handler failure adds one final Text envelope
// carrying the error. The sequence ends early when ctx is cancelled or the
// consumer stops.
func (e *Executor) RunStreaming(ctx context.Context, cmd registry.Command, req registry.Request) iter.Seq[response.Body] {
	return func(yield func(response.Body) bool) {
		start := time.Now()
		out := Outcome{InvocationID: uuid.New().String(), Stdout: []string{}}

		release, err := e.acquire(ctx)
		if err != nil {
			out.fail(err)
			e.finish(ctx, cmd, ModeStream, req, &out, time.Since(start))
			return
		}
		defer release()

		runCtx, cancel := e.withTimeout(ctx)
		defer cancel()

		stream := capture.Stream(runCtx, func(ctx context.Context, w io.Writer) error {
			_, err := cmd.Invoke(ctx, w, req)
			return err
		})

		stopped := false
		for line := range stream.Lines() {
			if len(out.Stdout) > 0 && !pause(runCtx, e.cfg.StreamThrottle) {
				break
			}
			out.Stdout = append(out.Stdout, line)
			if !yield(response.ClassifyLine(line)) {
				stopped = true
				break
			}
		}
		telemetry.AddStreamLines(cmd.Path, len(out.Stdout))

		switch {
		case stopped || ctx.Err() != nil:
			out.Error = "stream closed by consumer"
			e.finishStatus(ctx, cmd, ModeStream, req, &out, StatusCancelled, time.Since(start))
			return
		case runCtx.Err() != nil:
			out.fail(runCtx.Err())
		case stream.Err() != nil:
			out.fail(stream.Err())
		default:
			out.Success = true
		}
		if !out.Success {
			yield(response.Text("error: " + out.Error))
		}
		e.finish(ctx, cmd, ModeStream, req, &out, time.Since(start))
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func invokeSafely(ctx context.Context, cmd registry.Command, w io.Writer, req registry.Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &capture.PanicError{Value: r}
		}
	}()
	return cmd.Invoke(ctx, w, req)
}

func (e *Executor) finish(ctx context.Context, cmd registry.Command, mode string, req registry.Request, out *Outcome, d time.Duration) {
	status := StatusOK
	if !out.Success {
		status = StatusFailed
	}
	e.finishStatus(ctx, cmd, mode, req, out, status, d)
}

func (e *Executor) finishStatus(ctx context.Context, cmd registry.Command, mode string, req registry.Request, out *Outcome, status string, d time.Duration) {
	telemetry.IncInvocation(cmd.Path, mode, status)
	telemetry.ObserveInvocationDuration(cmd.Path, d)

	attrs := []any{
		"plugin", cmd.Plugin,
		"command", cmd.Path,
		"mode", mode,
		"status", status,
		"invocation_id", out.InvocationID,
		"duration", d.String(),
	}
	if out.Error != "" {
		e.logger.Warn("invocation failed", append(attrs, "err", out.Error)...)
	} else {
		e.logger.Info("invocation finished", attrs...)
	}

	if e.cfg.Recorder == nil {
		return
	}
	var result any
	if out.Result != nil {
		result = out.Result
	}
	receipt, err := e.cfg.Recorder.Record(context.WithoutCancel(ctx), InvocationRecord{
		InvocationID: out.InvocationID,
		Plugin:       cmd.Plugin,
		Command:      cmd.Path,
		Mode:         mode,
		Status:       status,
		Request:      req,
		Result:       result,
		Stdout:       out.Stdout,
		Error:        out.Error,
		Duration:     d,
	})
	if err != nil {
		telemetry.IncAuditFailure()
		e.logger.Error("audit record failed", "command", cmd.Path, "invocation_id", out.InvocationID, "err", err)
		return
	}
	out.EvidenceHash = receipt.EvidenceHash
	out.Receipt = receipt.Token
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// IsInvalidReturn reports whether an outcome failed because the handler
// returned a value with no envelope mapping.
func IsInvalidReturn(o Outcome) bool {
	var invalid *response.InvalidReturnTypeError
	return errors.As(o.cause, &invalid)
}
