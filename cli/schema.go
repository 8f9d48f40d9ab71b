package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// NewSchemaCmd creates the "schema" subcommand.
func NewSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <tool>",
		Short: "Ask a tool for its schema and compare it with the manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchema,
	}
	cmd.Flags().String("format", "text", "Output format: text | json | raw")
	return cmd
}

func runSchema(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "raw":
	default:
		return exitError(exitInputParse, "unknown format %q (use text, json, or raw)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	name := args[0]
	reg, err := s.loadRegistry(cmd.Context())
	if err != nil {
		return err
	}
	binding, err := s.bind(reg, name, adapters.Overrides{})
	if err != nil {
		return err
	}

	schema, err := binding.FetchSchema(cmd.Context())
	if err != nil {
		return failure("schema", err)
	}
	out := cmd.OutOrStdout()
	if format == "raw" {
		return writeJSON(out, schema)
	}

	m, err := manifestFor(reg, name)
	if err != nil {
		return failure("schema", err)
	}
	d, err := adapters.CheckDrift(m, schema)
	if err != nil {
		return exitError(exitValidation, "schema: %v", err)
	}

	if format == "json" {
		if err := writeJSON(out, d); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, d.String())
	}
	if !d.Empty() {
		return exitError(exitValidation, "manifest %q has drifted from the tool", name)
	}
	return nil
}

// manifestFor returns the stored manifest of name, falling back to the
// built-in default.
func manifestFor(reg *manifest.Registry, name string) (manifest.Manifest, error) {
	m, err := reg.Get(name)
	if err == nil {
		return m, nil
	}
	var notFound *bridge.ToolNotFoundError
	if !errors.As(err, &notFound) {
		return manifest.Manifest{}, err
	}
	return manifest.Default(name)
}
