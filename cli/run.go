package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/manifest"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <tool>",
		Short: "Run a built-in or manifest-bound tool with a JSON request",
		Long: "Run a tool by name. Built-in adapters take precedence over manifests from the\n" +
			"configured store; tool overrides from the config file and flags are applied on top.",
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	addInputFlags(cmd)
	addExecFlags(cmd)
	cmd.Flags().String("command", "", "Override the program that runs the tool")
	cmd.Flags().String("entry-point", "", "Override the tool entry point")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	payload, err := readInput(cmd)
	if err != nil {
		return err
	}
	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	reg, err := s.loadRegistry(cmd.Context())
	if err != nil {
		return err
	}
	binding, err := s.bind(reg, args[0], overrides)
	if err != nil {
		return err
	}

	start := time.Now()
	data, err := binding.CallJSON(cmd.Context(), payload, nil)
	env := envelopeFor(binding.ToolName(), binding.ToolVersion(), data, err, time.Since(start))
	if werr := writeJSON(cmd.OutOrStdout(), env); werr != nil {
		return werr
	}
	if err != nil {
		return failure("run "+binding.ToolName(), err)
	}
	return nil
}

// bind resolves name and applies config then flag overrides.
func (s *session) bind(reg *manifest.Registry, name string, flags adapters.Overrides) (adapters.Binding, error) {
	binding, err := adapters.Resolve(name, reg, s.executor)
	if err != nil {
		return nil, failure("resolve tool", err)
	}
	binding.Apply(s.cfg.Overrides(name))
	binding.Apply(flags)
	return binding, nil
}

func overridesFromFlags(cmd *cobra.Command) (adapters.Overrides, error) {
	var o adapters.Overrides
	o.Command, _ = cmd.Flags().GetString("command")
	o.EntryPoint, _ = cmd.Flags().GetString("entry-point")
	o.WorkingDir, _ = cmd.Flags().GetString("workdir")

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout < 0 {
		return adapters.Overrides{}, exitError(exitValidation, "--timeout must not be negative")
	}
	o.Timeout = timeout

	rawEnv, _ := cmd.Flags().GetStringArray("env")
	env, err := parseEnvFlags(rawEnv)
	if err != nil {
		return adapters.Overrides{}, err
	}
	o.Env = env
	return o, nil
}
