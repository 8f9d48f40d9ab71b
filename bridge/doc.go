// Package bridge runs external command-line tools as typed calls.
//
// One call spawns one child process, writes a single JSON request to its
// standard input, closes the stream, waits for the process under a bounded
// timeout and decodes exactly one JSON value from its standard output.
//
// The package is split by concern:
//   - config: per-call execution settings (timeout, working dir, env)
//   - executor: process lifetime, timeout enforcement, outcome classification
//   - error: the failure taxonomy shared by executors and adapters
//   - envelope: the uniform success/failure record returned to adapter callers
//   - observability: per-executor hooks for metrics and tracing
package bridge
