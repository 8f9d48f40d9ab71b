package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ErrorCodeIO is returned when spawning the process or its pipes fails.
	ErrorCodeIO = "IO_ERROR"
	// ErrorCodeSerialization is returned when the request cannot be encoded.
	ErrorCodeSerialization = "SERIALIZATION_ERROR"
	// ErrorCodeTimeout is returned when the process outlives its timeout.
	ErrorCodeTimeout = "TIMEOUT"
	// ErrorCodeProcessFailed is returned for a non-zero exit status.
	ErrorCodeProcessFailed = "PROCESS_FAILED"
	// ErrorCodeInvalidOutput is returned when stdout is not one JSON value of the expected shape.
	ErrorCodeInvalidOutput = "INVALID_OUTPUT"
	// ErrorCodeToolNotFound is returned when a manifest or adapter lookup misses.
	ErrorCodeToolNotFound = "TOOL_NOT_FOUND"
	// ErrorCodeInvalidConfig is returned when a call is rejected before spawning.
	ErrorCodeInvalidConfig = "INVALID_CONFIG"
)

// ExitCodeUnknown is reported when the process did not exit normally,
// for example when it was terminated by a signal.
const ExitCodeUnknown = -1

// IOError reports a spawn or pipe failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e == nil {
		return ""
	}
	return joinMessage("io error", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Code returns ErrorCodeIO.
func (e *IOError) Code() string { return ErrorCodeIO }

// SerializationError reports a request that could not be encoded as JSON.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	if e == nil {
		return ""
	}
	return joinMessage("json serialization error", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Code returns ErrorCodeSerialization.
func (e *SerializationError) Code() string { return ErrorCodeSerialization }

// TimeoutError reports a process killed after exceeding the configured timeout.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("process timeout after %s", e.Duration)
}

// Code returns ErrorCodeTimeout.
func (e *TimeoutError) Code() string { return ErrorCodeTimeout }

// ProcessFailedError reports a non-zero exit. Stderr is logged by the
// executor and intentionally not carried here.
type ProcessFailedError struct {
	ExitCode int
}

func (e *ProcessFailedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("process exited with non-zero status: %d", e.ExitCode)
}

// Code returns ErrorCodeProcessFailed.
func (e *ProcessFailedError) Code() string { return ErrorCodeProcessFailed }

// InvalidOutputError reports stdout that is not exactly one JSON value of the
// expected shape. Diagnostic is short and never contains the raw payload.
type InvalidOutputError struct {
	Diagnostic string
	Err        error
}

func (e *InvalidOutputError) Error() string {
	if e == nil {
		return ""
	}
	return "invalid output format: " + e.Diagnostic
}

func (e *InvalidOutputError) Unwrap() error { return e.Err }

// Code returns ErrorCodeInvalidOutput.
func (e *InvalidOutputError) Code() string { return ErrorCodeInvalidOutput }

// ToolNotFoundError reports a manifest or adapter lookup miss.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return "tool not found: " + e.Name
}

// Code returns ErrorCodeToolNotFound.
func (e *ToolNotFoundError) Code() string { return ErrorCodeToolNotFound }

// ConfigError reports a call rejected before any process was spawned.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Code returns ErrorCodeInvalidConfig.
func (e *ConfigError) Code() string { return ErrorCodeInvalidConfig }

type codedError interface {
	error
	Code() string
}

// ErrorCode returns the code of the first bridge error in err's chain, or ""
// when err is nil or carries no bridge code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded codedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

func joinMessage(prefix, op string, cause error) string {
	parts := []string{prefix}
	if op = strings.TrimSpace(op); op != "" {
		parts = append(parts, op)
	}
	if cause != nil {
		parts = append(parts, cause.Error())
	}
	return strings.Join(parts, ": ")
}
