package bridge

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the timeout of DefaultExecConfig.
const DefaultTimeout = 30 * time.Second

// ExecConfig carries the settings of one call. It is supplied explicitly by
// the caller for every call and never read from global state.
type ExecConfig struct {
	// Timeout bounds the whole call and must be positive.
	Timeout time.Duration
	// WorkingDir overrides the child's working directory when non-empty.
	WorkingDir string
	// Env adds variables on top of the inherited environment.
	Env map[string]string
	// LogIO logs the request and response bodies at debug level.
	LogIO bool
}

// DefaultExecConfig returns a 30s timeout with I/O logging enabled.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		Timeout: DefaultTimeout,
		LogIO:   true,
	}
}

// WithTimeout returns a copy of c with the timeout replaced.
func (c ExecConfig) WithTimeout(timeout time.Duration) ExecConfig {
	c.Timeout = timeout
	c.Env = maps.Clone(c.Env)
	return c
}

// Validate checks the call preconditions.
func (c ExecConfig) Validate() error {
	if c.Timeout <= 0 {
		return &ConfigError{Field: "timeout", Message: "must be greater than zero"}
	}
	for key := range c.Env {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "=\x00") {
			return &ConfigError{Field: "env", Message: "invalid variable name " + strconv.Quote(key)}
		}
	}
	return nil
}

func flattenEnv(values map[string]string) []string {
	keys := slices.Sorted(maps.Keys(values))
	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
