package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/manifest"
)

// NewManifestsCmd creates the "manifests" command group.
func NewManifestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifests",
		Short: "Manage capability manifests",
	}
	cmd.PersistentFlags().String("dir", "", "Manifest directory (default: configured store)")

	cmd.AddCommand(newManifestsInitCmd())
	cmd.AddCommand(newManifestsListCmd())
	cmd.AddCommand(newManifestsShowCmd())
	cmd.AddCommand(newManifestsValidateCmd())
	cmd.AddCommand(newManifestsImportCmd())
	cmd.AddCommand(newManifestsRemoveCmd())
	return cmd
}

func newManifestsInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in default manifests to the manifest directory",
		Args:  cobra.NoArgs,
		RunE:  runManifestsInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite existing manifest files")
	return cmd
}

func runManifestsInit(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	dir, _ := cmd.Flags().GetString("dir")
	if strings.TrimSpace(dir) == "" {
		dir = s.cfg.ManifestDir
	}
	force, _ := cmd.Flags().GetBool("force")

	written, err := manifest.Bootstrap(dir, force)
	if err != nil {
		return exitError(exitRuntime, "init manifests: %v", err)
	}
	out := cmd.OutOrStdout()
	if len(written) == 0 {
		fmt.Fprintf(out, "All default manifests already exist in %s\n", dir)
		return nil
	}
	for _, path := range written {
		fmt.Fprintf(out, "Wrote %s\n", path)
	}
	return nil
}

func newManifestsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored manifests",
		Args:  cobra.NoArgs,
		RunE:  runManifestsList,
	}
}

func runManifestsList(cmd *cobra.Command, _ []string) error {
	s, store, closeStore, err := openManifestStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	defer func() { _ = closeStore() }()

	ms, err := store.List(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "listing manifests: %v", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tTIMEOUT\tENTRY POINT\tCAPABILITIES")
	for _, m := range ms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.Name,
			m.Version,
			strconv.Itoa(m.DefaultTimeoutSec)+"s",
			m.EntryPoint,
			strings.Join(m.Capabilities, ","),
		)
	}
	return w.Flush()
}

func newManifestsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print one stored manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runManifestsShow,
	}
}

func runManifestsShow(cmd *cobra.Command, args []string) error {
	s, store, closeStore, err := openManifestStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	defer func() { _ = closeStore() }()

	m, ok, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return failure("show manifest", err)
	}
	if !ok {
		return exitError(exitFileNotFound, "manifest %q not found", args[0])
	}
	data, err := manifest.Marshal(m)
	if err != nil {
		return exitError(exitRuntime, "marshaling manifest: %v", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func newManifestsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate manifest files without storing them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runManifestsValidate,
	}
}

func runManifestsValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var missing, invalid int
	for _, path := range args {
		m, err := manifest.Load(path)
		if err == nil {
			err = manifest.Validate(m)
		}
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing++
				fmt.Fprintf(out, "MISSING  %s\n", path)
				continue
			}
			invalid++
			fmt.Fprintf(out, "INVALID  %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "OK       %s\n", path)
	}

	switch {
	case missing > 0:
		return exitError(exitFileNotFound, "%d manifest file(s) not found", missing)
	case invalid > 0:
		return exitError(exitValidation, "%d manifest file(s) invalid", invalid)
	default:
		return nil
	}
}

func newManifestsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>...",
		Short: "Validate manifest files and add them to the store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runManifestsImport,
	}
}

func runManifestsImport(cmd *cobra.Command, args []string) error {
	s, store, closeStore, err := openManifestStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	defer func() { _ = closeStore() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for _, path := range args {
		m, err := manifest.Load(path)
		if err == nil {
			err = manifest.Validate(m)
		}
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return exitError(exitFileNotFound, "manifest file not found: %s", path)
			}
			return exitError(exitValidation, "import %s: %v", path, err)
		}

		prev, exists, err := store.Get(ctx, m.Name)
		if err != nil {
			return failure("import "+path, err)
		}
		if exists {
			if err := manifest.CheckUpgrade(prev, m); err != nil {
				return failure("import "+path, err)
			}
		}
		if err := store.Upsert(ctx, m); err != nil {
			return failure("import "+path, err)
		}
		fmt.Fprintf(out, "Imported %s@%s\n", m.Name, m.Version)
	}
	return nil
}

func newManifestsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a manifest from the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runManifestsRemove,
	}
}

func runManifestsRemove(cmd *cobra.Command, args []string) error {
	s, store, closeStore, err := openManifestStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	defer func() { _ = closeStore() }()

	name := args[0]
	if _, ok, err := store.Get(cmd.Context(), name); err != nil {
		return failure("remove manifest", err)
	} else if !ok {
		return exitError(exitFileNotFound, "manifest %q not found", name)
	}
	if err := store.Delete(cmd.Context(), name); err != nil {
		return failure("remove manifest", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
	return nil
}

func openManifestStore(cmd *cobra.Command) (*session, manifest.Store, func() error, error) {
	s, err := openSession(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	dir, _ := cmd.Flags().GetString("dir")
	store, closeStore, err := s.openStore(dir)
	if err != nil {
		s.close()
		return nil, nil, nil, err
	}
	return s, store, closeStore, nil
}
