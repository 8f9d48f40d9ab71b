package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clibridge",
	Short: "Run external CLI tools through a typed JSON bridge",
	Long: "clibridge runs external tools as child processes, exchanging one JSON request\n" +
		"and one JSON response over stdio under a timeout.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	cli.AddGlobalFlags(rootCmd)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("clibridge version %s\n", version))

	rootCmd.AddCommand(cli.NewExecCmd())
	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewSchemaCmd())
	rootCmd.AddCommand(cli.NewManifestsCmd())
	rootCmd.AddCommand(cli.NewDriftCmd())
}
