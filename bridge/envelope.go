package bridge

import (
	"errors"
	"strings"
	"time"
)

const unknownFailureMessage = "unknown error"

// Metadata describes the call that produced an Envelope.
type Metadata struct {
	ToolName   string    `json:"tool_name"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
}

// Envelope is the uniform success/failure record returned by tool adapters.
// Success is true exactly when Data is set and Error is empty.
type Envelope[T any] struct {
	Success  bool     `json:"success"`
	Data     *T       `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// NewSuccess wraps data in a successful envelope stamped with the current time.
// The duration is measured by the caller around the executor call.
func NewSuccess[T any](data T, toolName string, duration time.Duration, version string) Envelope[T] {
	return Envelope[T]{
		Success:  true,
		Data:     &data,
		Metadata: newMetadata(toolName, duration, version),
	}
}

// NewFailure wraps an error message in a failed envelope. An empty message is
// replaced so the failure always carries text.
func NewFailure[T any](message, toolName string, duration time.Duration, version string) Envelope[T] {
	if strings.TrimSpace(message) == "" {
		message = unknownFailureMessage
	}
	return Envelope[T]{
		Success:  false,
		Error:    message,
		Metadata: newMetadata(toolName, duration, version),
	}
}

// Validate reports whether the success/data/error invariant holds.
func (e Envelope[T]) Validate() error {
	switch {
	case e.Success && e.Data == nil:
		return errors.New("bridge: successful envelope without data")
	case e.Success && e.Error != "":
		return errors.New("bridge: successful envelope with error")
	case !e.Success && e.Data != nil:
		return errors.New("bridge: failed envelope with data")
	case !e.Success && e.Error == "":
		return errors.New("bridge: failed envelope without error")
	default:
		return nil
	}
}

// Result returns the data of a successful envelope, or an error carrying the
// failure message.
func (e Envelope[T]) Result() (T, error) {
	if e.Success && e.Data != nil {
		return *e.Data, nil
	}
	var zero T
	msg := e.Error
	if msg == "" {
		msg = unknownFailureMessage
	}
	return zero, errors.New(msg)
}

func newMetadata(toolName string, duration time.Duration, version string) Metadata {
	return Metadata{
		ToolName:   toolName,
		DurationMS: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
		Version:    version,
	}
}
