package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultWaitDelay   = time.Second
	maxStderrBytes     = 64 << 10
	maxDiagnosticBytes = 200
)

// Executor spawns one child process per call and exchanges a single JSON
// request/response pair over its standard streams. An Executor holds no
// per-call state and may be shared by concurrent calls.
type Executor struct {
	// Logger receives spawn, I/O and failure logs. Nil uses slog.Default().
	Logger *slog.Logger
	// Observer receives one observation per call. Nil disables observations.
	Observer Observer
	// WaitDelay bounds how long a call waits for output pipes to drain after
	// the process was killed or exited. Zero uses one second.
	WaitDelay time.Duration
}

// NewExecutor creates an executor with the given logger and observer.
func NewExecutor(logger *slog.Logger, observer Observer) *Executor {
	return &Executor{Logger: logger, Observer: observer}
}

// Execute encodes req as JSON, runs command with args, and decodes the single
// JSON value written to stdout into O. Exactly one attempt is made. The
// returned error is one of *ConfigError, *SerializationError, *IOError,
// *TimeoutError, *ProcessFailedError or *InvalidOutputError.
func Execute[I, O any](ctx context.Context, e *Executor, command string, args []string, req I, cfg ExecConfig) (O, error) {
	var zero O
	if e == nil {
		e = &Executor{}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		serErr := &SerializationError{Op: "encode request", Err: err}
		e.observer().ObserveExecution(ExecObservation{
			ToolName:  ToolNameFromContext(ctx),
			Command:   command,
			ExitCode:  ExitCodeUnknown,
			ErrorCode: ErrorCodeSerialization,
		})
		return zero, serErr
	}

	return ExecuteBody[O](ctx, e, command, args, payload, cfg)
}

// ExecuteBody is Execute for a request that is already encoded. A nil body
// closes the child's input immediately. Decode failures count against the
// call's observation like any other failure.
func ExecuteBody[O any](ctx context.Context, e *Executor, command string, args []string, body []byte, cfg ExecConfig) (O, error) {
	var zero O
	if e == nil {
		e = &Executor{}
	}
	var out O
	_, err := e.exec(ctx, command, args, body, cfg, func(raw []byte) error {
		decoded, err := DecodeOutput[O](raw)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		return zero, err
	}
	return out, nil
}

// ExecRaw runs command with stdin as the request body and returns stdout of a
// successful exit without decoding it. A nil stdin closes the child's input
// immediately.
func (e *Executor) ExecRaw(ctx context.Context, command string, args []string, stdin []byte, cfg ExecConfig) ([]byte, error) {
	if e == nil {
		e = &Executor{}
	}
	return e.exec(ctx, command, args, stdin, cfg, nil)
}

type runResult struct {
	pid      int
	exitCode int
	stdout   []byte
}

func (e *Executor) exec(
	ctx context.Context,
	command string,
	args []string,
	stdin []byte,
	cfg ExecConfig,
	decode func([]byte) error,
) ([]byte, error) {
	start := time.Now()
	callID := uuid.NewString()
	res, err := e.run(ctx, callID, command, args, stdin, cfg)
	if err == nil && decode != nil {
		err = decode(res.stdout)
		if err != nil {
			e.logger().Error("bridge: invalid tool output",
				"call_id", callID,
				"command", command,
				"error", err,
			)
		}
	}

	e.observer().ObserveExecution(ExecObservation{
		CallID:     callID,
		ToolName:   ToolNameFromContext(ctx),
		Command:    command,
		PID:        res.pid,
		ExitCode:   res.exitCode,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    err == nil,
		ErrorCode:  ErrorCode(err),
	})
	if err != nil {
		return nil, err
	}
	return res.stdout, nil
}

func (e *Executor) run(
	parent context.Context,
	callID string,
	command string,
	args []string,
	stdin []byte,
	cfg ExecConfig,
) (runResult, error) {
	res := runResult{exitCode: ExitCodeUnknown}
	if strings.TrimSpace(command) == "" {
		return res, &ConfigError{Field: "command", Message: "must not be empty"}
	}
	if err := cfg.Validate(); err != nil {
		return res, err
	}

	logger := e.logger().With("call_id", callID, "command", command)
	if tool := ToolNameFromContext(parent); tool != "" {
		logger = logger.With("tool_name", tool)
	}

	execCtx, cancel := context.WithTimeout(parent, cfg.Timeout)
	defer cancel()

	var killed atomic.Bool
	// #nosec G204 -- command/args are supplied by the adapter binding or caller.
	cmd := exec.CommandContext(execCtx, command, args...)
	configureProcess(cmd, &killed)
	cmd.WaitDelay = e.waitDelay()
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(cfg.Env)...)
	}

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if cfg.LogIO {
		logger.Debug("bridge: request", "body", string(stdin))
	}
	logger.Info("bridge: spawning subprocess", "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return res, &IOError{Op: "spawn " + command, Err: err}
	}
	res.pid = cmd.Process.Pid

	waitErr := cmd.Wait()
	if cmd.ProcessState != nil {
		res.exitCode = cmd.ProcessState.ExitCode()
	}
	if !killed.Load() {
		// Background children may outlive the tool on any exit path.
		if err := killProcessGroup(cmd); err != nil {
			logger.Warn("bridge: kill process group", "error", err)
		}
	}

	if killed.Load() {
		if parentErr := parent.Err(); parentErr != nil {
			logger.Warn("bridge: call canceled", "error", parentErr)
			return res, &IOError{Op: "wait", Err: parentErr}
		}
		logger.Warn("bridge: process timed out", "timeout", cfg.Timeout.String())
		return res, &TimeoutError{Duration: cfg.Timeout}
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// The tool exited cleanly but something it spawned still held its
		// output pipes. Whatever it wrote before exiting is the response.
		logger.Warn("bridge: output pipes held open after exit", "wait_delay", cmd.WaitDelay.String())
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			res.exitCode = code
			logger.Error("bridge: process failed",
				"exit_code", code,
				"stderr", strings.TrimSpace(lossyString(stderr.Bytes())),
			)
			return res, &ProcessFailedError{ExitCode: code}
		}
		logger.Error("bridge: wait failed", "error", waitErr)
		return res, &IOError{Op: "wait", Err: waitErr}
	}

	res.stdout = stdout.Bytes()
	if cfg.LogIO {
		logger.Debug("bridge: response", "body", lossyString(res.stdout))
	}
	return res, nil
}

// DecodeOutput decodes raw tool output as exactly one JSON value of shape O.
// Invalid UTF-8 is replaced rather than rejected. Any failure is reported as
// *InvalidOutputError with a short diagnostic.
func DecodeOutput[O any](raw []byte) (O, error) {
	var zero O
	text := lossyString(raw)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, &InvalidOutputError{Diagnostic: "empty output"}
	}

	var out O
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&out); err != nil {
		return zero, &InvalidOutputError{Diagnostic: diagnose(err), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return zero, &InvalidOutputError{Diagnostic: "trailing data: " + diagnose(err), Err: err}
		}
		return zero, &InvalidOutputError{Diagnostic: "multiple JSON values"}
	}
	if trimmed == "null" && !acceptsNull[O]() {
		return zero, &InvalidOutputError{
			Diagnostic: fmt.Sprintf("null value where %s expected", reflect.TypeFor[O]()),
		}
	}
	return out, nil
}

func acceptsNull[O any]() bool {
	switch reflect.TypeFor[O]().Kind() {
	case reflect.Interface, reflect.Pointer:
		return true
	default:
		return false
	}
}

func diagnose(err error) string {
	msg := strings.TrimPrefix(err.Error(), "json: ")
	if len(msg) > maxDiagnosticBytes {
		msg = strings.ToValidUTF8(msg[:maxDiagnosticBytes], "") + "..."
	}
	return msg
}

func lossyString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) observer() Observer {
	if e.Observer != nil {
		return e.Observer
	}
	return noopObserver{}
}

func (e *Executor) waitDelay() time.Duration {
	if e.WaitDelay > 0 {
		return e.WaitDelay
	}
	return defaultWaitDelay
}

// cappedBuffer keeps the first limit bytes written and discards the rest so
// a noisy tool cannot grow diagnostics without bound.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
