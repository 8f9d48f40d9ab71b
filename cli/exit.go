package cli

import (
	"errors"
	"fmt"

	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitTimeout      = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// exitCodeFor maps a bridge or manifest failure to the exit code table.
func exitCodeFor(err error) int {
	var (
		validationErr *manifest.ValidationError
		conflictErr   *manifest.ConflictError
	)
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &validationErr), errors.As(err, &conflictErr),
		errors.Is(err, manifest.ErrContractChanged):
		return exitValidation
	}

	switch bridge.ErrorCode(err) {
	case bridge.ErrorCodeTimeout:
		return exitTimeout
	case bridge.ErrorCodeToolNotFound:
		return exitFileNotFound
	case bridge.ErrorCodeInvalidConfig:
		return exitValidation
	case bridge.ErrorCodeSerialization:
		return exitInputParse
	default:
		return exitRuntime
	}
}

// failure wraps err in an ExitError using exitCodeFor.
func failure(prefix string, err error) *ExitError {
	return exitError(exitCodeFor(err), "%s: %v", prefix, err)
}
