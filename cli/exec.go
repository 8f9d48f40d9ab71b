package cli

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/bridge"
)

// NewExecCmd creates the "exec" subcommand, which runs an arbitrary command
// through the executor.
func NewExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Send one JSON request to a command and print the result envelope",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	addInputFlags(cmd)
	addExecFlags(cmd)
	cmd.Flags().String("name", "", "Tool name recorded in logs and the envelope (default: command base name)")
	cmd.Flags().Bool("log-io", true, "Log request and response bodies at debug level")
	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	payload, err := readInput(cmd)
	if err != nil {
		return err
	}
	cfg, err := execConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(args[0])
	}
	ctx := bridge.WithToolName(cmd.Context(), name)

	start := time.Now()
	data, err := bridge.ExecuteBody[json.RawMessage](ctx, s.executor, args[0], args[1:], payload, cfg)

	if werr := writeJSON(cmd.OutOrStdout(), envelopeFor(name, "", data, err, time.Since(start))); werr != nil {
		return werr
	}
	if err != nil {
		return failure("exec "+name, err)
	}
	return nil
}

func execConfigFromFlags(cmd *cobra.Command) (bridge.ExecConfig, error) {
	cfg := bridge.DefaultExecConfig()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout != 0 {
		cfg.Timeout = timeout
	}
	cfg.WorkingDir, _ = cmd.Flags().GetString("workdir")
	cfg.LogIO, _ = cmd.Flags().GetBool("log-io")

	rawEnv, _ := cmd.Flags().GetStringArray("env")
	env, err := parseEnvFlags(rawEnv)
	if err != nil {
		return bridge.ExecConfig{}, err
	}
	cfg.Env = env

	if err := cfg.Validate(); err != nil {
		return bridge.ExecConfig{}, failure("invalid flags", err)
	}
	return cfg, nil
}
