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
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type echoRequest struct {
	Message string `json:"message"`
}

type echoResponse struct {
	Response string `json:"response"`
}

// helperCommand returns a command that re-executes the test binary as a fake
// tool whose behavior is selected by mode.
func helperCommand(mode string) (string, []string, map[string]string) {
	return os.Args[0], []string{"-test.run=^TestHelperProcess$", "--"}, map[string]string{
		"GO_WANT_BRIDGE_HELPER": "1",
		"BRIDGE_HELPER_MODE":    mode,
	}
}

func helperConfig(mode string, timeout time.Duration) (string, []string, ExecConfig) {
	command, args, env := helperCommand(mode)
	return command, args, ExecConfig{Timeout: timeout, Env: env}
}

type recordingObserver struct {
	mu           sync.Mutex
	observations []ExecObservation
}

func (o *recordingObserver) ObserveExecution(observation ExecObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, observation)
}

func (o *recordingObserver) last(t *testing.T) ExecObservation {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.observations) == 0 {
		t.Fatal("no observations recorded")
	}
	return o.observations[len(o.observations)-1]
}

func newTestExecutor(observer Observer) (*Executor, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewExecutor(logger, observer), &logs
}

func TestExecuteEcho(t *testing.T) {
	observer := &recordingObserver{}
	executor, _ := newTestExecutor(observer)
	command, args, cfg := helperConfig("echo", 10*time.Second)

	ctx := WithToolName(context.Background(), "echo")
	got, err := Execute[echoRequest, echoResponse](ctx, executor, command, args, echoRequest{Message: "hello"}, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Response != "hello" {
		t.Fatalf("Response = %q, want hello", got.Response)
	}

	obs := observer.last(t)
	if !obs.Success {
		t.Fatal("observation Success = false, want true")
	}
	if obs.ToolName != "echo" {
		t.Fatalf("observation ToolName = %q, want echo", obs.ToolName)
	}
	if obs.ExitCode != 0 {
		t.Fatalf("observation ExitCode = %d, want 0", obs.ExitCode)
	}
	if obs.CallID == "" {
		t.Fatal("observation CallID is empty")
	}
}

func TestExecuteTimeout(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	command, args, cfg := helperConfig("sleep", time.Second)

	start := time.Now()
	_, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{Message: "hello"}, cfg)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Execute() error = %v, want *TimeoutError", err)
	}
	if timeoutErr.Duration != time.Second {
		t.Fatalf("TimeoutError.Duration = %s, want 1s", timeoutErr.Duration)
	}
	if elapsed >= 4*time.Second {
		t.Fatalf("elapsed = %s, want about 1s", elapsed)
	}
	if got := ErrorCode(err); got != ErrorCodeTimeout {
		t.Fatalf("ErrorCode = %q, want %q", got, ErrorCodeTimeout)
	}
	if !IsTimeout(err) {
		t.Fatal("IsTimeout() = false, want true")
	}
}

func TestExecuteProcessFailed(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{name: "exit 2", code: 2},
		{name: "exit 1", code: 1},
		{name: "exit 42", code: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, _ := newTestExecutor(nil)
			command, args, cfg := helperConfig("exit", 10*time.Second)
			cfg.Env["BRIDGE_HELPER_EXIT_CODE"] = strconv.Itoa(tt.code)

			_, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{}, cfg)
			var failed *ProcessFailedError
			if !errors.As(err, &failed) {
				t.Fatalf("Execute() error = %v, want *ProcessFailedError", err)
			}
			if failed.ExitCode != tt.code {
				t.Fatalf("ExitCode = %d, want %d", failed.ExitCode, tt.code)
			}
		})
	}
}

func TestExecuteProcessFailedKeepsStderrInLogsOnly(t *testing.T) {
	executor, logs := newTestExecutor(nil)
	command, args, cfg := helperConfig("stderr_fail", 10*time.Second)

	_, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{}, cfg)
	if err == nil {
		t.Fatal("Execute() error = nil, want non-nil")
	}
	if strings.Contains(err.Error(), "secret diagnostic") {
		t.Fatalf("error %q leaks stderr", err)
	}
	if !strings.Contains(logs.String(), "secret diagnostic") {
		t.Fatalf("logs = %q, want stderr text", logs.String())
	}
}

func TestExecuteInvalidOutput(t *testing.T) {
	tests := []struct {
		mode string
	}{
		{mode: "not_json"},
		{mode: "multi"},
		{mode: "array"},
		{mode: "empty"},
		{mode: "null"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			executor, _ := newTestExecutor(nil)
			command, args, cfg := helperConfig(tt.mode, 10*time.Second)

			_, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{}, cfg)
			var invalid *InvalidOutputError
			if !errors.As(err, &invalid) {
				t.Fatalf("Execute() error = %v, want *InvalidOutputError", err)
			}
			if invalid.Diagnostic == "" {
				t.Fatal("Diagnostic is empty")
			}
			if strings.Contains(invalid.Diagnostic, "not json at all") {
				t.Fatalf("Diagnostic %q leaks raw payload", invalid.Diagnostic)
			}
		})
	}
}

func TestExecuteLossyUTF8(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	command, args, cfg := helperConfig("bad_utf8", 10*time.Second)

	got, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{}, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(got.Response, "�") {
		t.Fatalf("Response = %q, want replacement character", got.Response)
	}
}

func TestExecuteAppliesEnvAndWorkingDir(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	dir := t.TempDir()
	command, args, cfg := helperConfig("env", 10*time.Second)
	cfg.WorkingDir = dir
	cfg.Env["BRIDGE_EXTRA"] = "extra-value"

	got, err := Execute[echoRequest, map[string]string](context.Background(), executor, command, args, echoRequest{}, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got["extra"] != "extra-value" {
		t.Fatalf("extra = %q, want extra-value", got["extra"])
	}
	if !sameDir(t, got["cwd"], dir) {
		t.Fatalf("cwd = %q, want %q", got["cwd"], dir)
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Run("empty command", func(t *testing.T) {
		_, err := Execute[echoRequest, echoResponse](context.Background(), nil, "  ", nil, echoRequest{}, DefaultExecConfig())
		if got := ErrorCode(err); got != ErrorCodeInvalidConfig {
			t.Fatalf("ErrorCode = %q, want %q", got, ErrorCodeInvalidConfig)
		}
	})

	t.Run("zero timeout", func(t *testing.T) {
		command, args, cfg := helperConfig("echo", 0)
		_, err := Execute[echoRequest, echoResponse](context.Background(), nil, command, args, echoRequest{}, cfg)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Execute() error = %v, want *ConfigError", err)
		}
		if cfgErr.Field != "timeout" {
			t.Fatalf("Field = %q, want timeout", cfgErr.Field)
		}
	})

	t.Run("unencodable request", func(t *testing.T) {
		command, args, cfg := helperConfig("echo", time.Second)
		_, err := Execute[chan int, echoResponse](context.Background(), nil, command, args, make(chan int), cfg)
		var serErr *SerializationError
		if !errors.As(err, &serErr) {
			t.Fatalf("Execute() error = %v, want *SerializationError", err)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		cfg := DefaultExecConfig()
		_, err := Execute[echoRequest, echoResponse](context.Background(), nil, "clibridge-definitely-missing-binary", nil, echoRequest{}, cfg)
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			t.Fatalf("Execute() error = %v, want *IOError", err)
		}
	})
}

func TestExecuteParentCancel(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	command, args, cfg := helperConfig("sleep", 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := Execute[echoRequest, echoResponse](ctx, executor, command, args, echoRequest{}, cfg)
	if IsTimeout(err) {
		t.Fatalf("Execute() error = %v, want cancellation rather than timeout", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want wrapped context.Canceled", err)
	}
}

func TestExecRawSchemaFlag(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	command, args, cfg := helperConfig("schema", 10*time.Second)
	args = append(args, "--schema")

	raw, err := executor.ExecRaw(context.Background(), command, args, nil, cfg)
	if err != nil {
		t.Fatalf("ExecRaw() error = %v", err)
	}
	doc, err := DecodeOutput[map[string]any](raw)
	if err != nil {
		t.Fatalf("DecodeOutput() error = %v", err)
	}
	if doc["name"] != "helper" {
		t.Fatalf("schema name = %v, want helper", doc["name"])
	}
}

func TestExecuteBody(t *testing.T) {
	observer := &recordingObserver{}
	executor, _ := newTestExecutor(observer)

	command, args, cfg := helperConfig("echo", 10*time.Second)
	out, err := ExecuteBody[json.RawMessage](context.Background(), executor, command, args, []byte(`{"message":"raw"}`), cfg)
	if err != nil {
		t.Fatalf("ExecuteBody() error = %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != `{"response":"raw"}` {
		t.Fatalf("ExecuteBody() = %s", got)
	}
	if !observer.last(t).Success {
		t.Fatal("observation Success = false, want true")
	}

	command, args, cfg = helperConfig("not_json", 10*time.Second)
	_, err = ExecuteBody[json.RawMessage](context.Background(), executor, command, args, nil, cfg)
	var invalid *InvalidOutputError
	if !errors.As(err, &invalid) {
		t.Fatalf("ExecuteBody() error = %v, want *InvalidOutputError", err)
	}
	obs := observer.last(t)
	if obs.Success || obs.ErrorCode != ErrorCodeInvalidOutput || obs.ExitCode != 0 {
		t.Fatalf("observation = %+v", obs)
	}
}

func TestExecuteLogIO(t *testing.T) {
	executor, logs := newTestExecutor(nil)
	command, args, cfg := helperConfig("echo", 10*time.Second)
	cfg.LogIO = true

	if _, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{Message: "logged-body"}, cfg); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Count(logs.String(), "logged-body") < 2 {
		t.Fatalf("logs = %q, want request and response bodies", logs.String())
	}
}

func TestExecuteConcurrentCalls(t *testing.T) {
	executor, _ := newTestExecutor(nil)
	command, args, cfg := helperConfig("echo", 10*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("call-%d", i)
			got, err := Execute[echoRequest, echoResponse](context.Background(), executor, command, args, echoRequest{Message: msg}, cfg)
			if err != nil {
				errs <- err
				return
			}
			if got.Response != msg {
				errs <- fmt.Errorf("response = %q, want %q", got.Response, msg)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDecodeOutput(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		got, err := DecodeOutput[echoResponse]([]byte("  {\"response\":\"ok\"}\n"))
		if err != nil {
			t.Fatalf("DecodeOutput() error = %v", err)
		}
		if got.Response != "ok" {
			t.Fatalf("Response = %q, want ok", got.Response)
		}
	})

	t.Run("null into interface", func(t *testing.T) {
		got, err := DecodeOutput[any]([]byte("null"))
		if err != nil {
			t.Fatalf("DecodeOutput() error = %v", err)
		}
		if got != nil {
			t.Fatalf("got = %v, want nil", got)
		}
	})

	t.Run("type mismatch diagnostic is bounded", func(t *testing.T) {
		_, err := DecodeOutput[echoResponse]([]byte(`{"response": 12}`))
		var invalid *InvalidOutputError
		if !errors.As(err, &invalid) {
			t.Fatalf("DecodeOutput() error = %v, want *InvalidOutputError", err)
		}
		if len(invalid.Diagnostic) > maxDiagnosticBytes+3 {
			t.Fatalf("len(Diagnostic) = %d, want <= %d", len(invalid.Diagnostic), maxDiagnosticBytes+3)
		}
	})
}

func TestCappedBuffer(t *testing.T) {
	buf := &cappedBuffer{limit: 4}
	n, err := io.WriteString(buf, "abcdef")
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v; want 6, nil", n, err)
	}
	if got := string(buf.Bytes()); got != "abcd" {
		t.Fatalf("Bytes() = %q, want abcd", got)
	}
}

func sameDir(t *testing.T, a, b string) bool {
	t.Helper()
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// platformHelperModes holds fake tool behaviors that only build on some
// platforms.
var platformHelperModes = map[string]func(){}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_BRIDGE_HELPER") != "1" {
		return
	}

	switch os.Getenv("BRIDGE_HELPER_MODE") {
	case "echo":
		var req echoRequest
		if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "decode error: %v\n", err)
			os.Exit(3)
		}
		_ = json.NewEncoder(os.Stdout).Encode(echoResponse{Response: req.Message})
	case "sleep":
		time.Sleep(5 * time.Second)
		_ = json.NewEncoder(os.Stdout).Encode(echoResponse{Response: "late"})
	case "exit":
		code, _ := strconv.Atoi(os.Getenv("BRIDGE_HELPER_EXIT_CODE"))
		os.Exit(code)
	case "stderr_fail":
		_, _ = fmt.Fprintln(os.Stderr, "secret diagnostic")
		os.Exit(2)
	case "not_json":
		_, _ = fmt.Fprint(os.Stdout, "not json at all")
	case "multi":
		_, _ = fmt.Fprint(os.Stdout, `{"response":"a"} {"response":"b"}`)
	case "array":
		_, _ = fmt.Fprint(os.Stdout, `["not", "an", "object"]`)
	case "empty":
	case "null":
		_, _ = fmt.Fprint(os.Stdout, "null")
	case "bad_utf8":
		_, _ = os.Stdout.Write([]byte("{\"response\":\"a\xffb\"}"))
	case "env":
		cwd, _ := os.Getwd()
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{
			"extra": os.Getenv("BRIDGE_EXTRA"),
			"cwd":   cwd,
		})
	case "schema":
		_, _ = io.Copy(io.Discard, os.Stdin)
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"name":   "helper",
			"inputs": map[string]any{"message": map[string]any{"type": "string"}},
		})
	default:
		mode, ok := platformHelperModes[os.Getenv("BRIDGE_HELPER_MODE")]
		if !ok {
			_, _ = fmt.Fprintln(os.Stderr, "unknown helper mode")
			os.Exit(99)
		}
		mode()
	}
	os.Exit(0)
}
