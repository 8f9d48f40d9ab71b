package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/config"
	"github.com/petal-labs/clibridge/manifest"
	"github.com/petal-labs/clibridge/otel"
)

const (
	telemetryScope  = "github.com/petal-labs/clibridge/cli"
	shutdownTimeout = 5 * time.Second
)

// AddGlobalFlags registers the persistent flags every subcommand reads.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String("config", "", "Path to clibridge.yaml (default: ./clibridge.yaml, then ~/.clibridge/config.yaml)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all log output except errors")
}

// session is the per-invocation state shared by subcommands.
type session struct {
	cfg      config.File
	cfgPath  string
	logger   *slog.Logger
	executor *bridge.Executor
	shutdown func(context.Context) error
}

func openSession(cmd *cobra.Command) (*session, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.Resolve(explicit)
	if err != nil {
		return nil, exitError(exitValidation, "loading config: %v", err)
	}

	logger := newLogger(cmd)
	s := &session{
		cfg:      cfg,
		cfgPath:  path,
		logger:   logger,
		shutdown: func(context.Context) error { return nil },
	}

	var observer bridge.Observer
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		providers, shutdown, err := otel.Setup(cmd.Context(), otel.SetupConfig{
			ServiceName:    "clibridge",
			ServiceVersion: cmd.Root().Version,
			OTLPEndpoint:   endpoint,
			Insecure:       true,
		})
		if err != nil {
			return nil, exitError(exitRuntime, "telemetry setup: %v", err)
		}
		obs, err := providers.Observer(telemetryScope)
		if err != nil {
			_ = shutdown(cmd.Context())
			return nil, exitError(exitRuntime, "telemetry setup: %v", err)
		}
		observer = obs
		s.shutdown = shutdown
		logger.Debug("cli: exporting telemetry", "endpoint", endpoint)
	}

	s.executor = bridge.NewExecutor(logger, observer)
	if path != "" {
		logger.Debug("cli: loaded config", "path", path)
	}
	return s, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn("cli: telemetry shutdown failed", "error", err)
	}
}

// openStore returns the manifest store selected by dirOverride or the config.
func (s *session) openStore(dirOverride string) (manifest.Store, func() error, error) {
	if strings.TrimSpace(dirOverride) != "" {
		return manifest.NewDirStore(dirOverride), func() error { return nil }, nil
	}
	store, closeFn, err := s.cfg.OpenStore()
	if err != nil {
		return nil, nil, exitError(exitRuntime, "opening manifest store: %v", err)
	}
	return store, closeFn, nil
}

// loadRegistry reads the configured store into a registry. Manifests that
// fail to load are logged and skipped.
func (s *session) loadRegistry(ctx context.Context) (*manifest.Registry, error) {
	store, closeFn, err := s.openStore("")
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFn() }()

	reg := &manifest.Registry{}
	if err := manifest.LoadStore(ctx, store, reg); err != nil {
		s.logger.Warn("cli: some manifests were not loaded", "error", err)
	}
	return reg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// addInputFlags registers --input and --input-file.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "Request JSON (inline)")
	cmd.Flags().StringP("input-file", "f", "", "Path to request JSON file")
}

// readInput returns the request from --input, --input-file or stdin. An
// empty request is sent as an empty JSON object.
func readInput(cmd *cobra.Command) (json.RawMessage, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return nil, exitError(exitInputParse, "cannot specify both --input and --input-file")
	}

	var data []byte
	switch {
	case inputStr != "":
		data = []byte(inputStr)
	case inputFile != "":
		var err error
		data, err = os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading input file: %v", err)
		}
	default:
		var err error
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, exitError(exitInputParse, "reading stdin: %v", err)
		}
	}

	if strings.TrimSpace(string(data)) == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, exitError(exitInputParse, "input is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// addExecFlags registers the per-call overrides shared by exec and run.
func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "Per-call timeout (default: tool default)")
	cmd.Flags().String("workdir", "", "Working directory of the tool process")
	cmd.Flags().StringArray("env", nil, "Extra environment variable KEY=VALUE (repeatable)")
}

func parseEnvFlags(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, exitError(exitValidation, "invalid --env %q (want KEY=VALUE)", raw)
		}
		env[key] = value
	}
	return env, nil
}

// envelopeFor builds the printed envelope of one call.
func envelopeFor(tool, version string, data json.RawMessage, err error, elapsed time.Duration) bridge.Envelope[json.RawMessage] {
	if err != nil {
		return bridge.NewFailure[json.RawMessage](err.Error(), tool, elapsed, version)
	}
	return bridge.NewSuccess(data, tool, elapsed, version)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "marshaling output: %v", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return exitError(exitRuntime, "writing output: %v", err)
	}
	return nil
}
