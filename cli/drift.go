package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/config"
	"github.com/petal-labs/clibridge/drift"
	"github.com/petal-labs/clibridge/manifest"
)

// NewDriftCmd creates the "drift" command group.
func NewDriftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare stored manifests with the schemas their tools report",
	}
	cmd.AddCommand(newDriftCheckCmd())
	cmd.AddCommand(newDriftWatchCmd())
	return cmd
}

func newDriftCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check every stored manifest once",
		Args:  cobra.NoArgs,
		RunE:  runDriftCheck,
	}
}

func runDriftCheck(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	reg, err := s.loadRegistry(cmd.Context())
	if err != nil {
		return err
	}
	enc := reportEncoder(cmd.OutOrStdout())
	sched, err := s.newScheduler(reg, s.cfg.Drift.Schedule, enc)
	if err != nil {
		return failure("drift", err)
	}

	var drifted int
	for _, r := range sched.RunOnce(cmd.Context()) {
		if !r.InSync() {
			drifted++
		}
	}
	if drifted > 0 {
		return exitError(exitValidation, "%d of %d manifest(s) drifted or failed to report a schema", drifted, reg.Len())
	}
	return nil
}

func newDriftWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run drift checks on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runDriftWatch,
	}
	cmd.Flags().String("schedule", "", "UTC cron expression or descriptor (default: config drift.schedule)")
	return cmd
}

func runDriftWatch(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		schedule = s.cfg.Drift.Schedule
	}

	reg, err := s.loadRegistry(cmd.Context())
	if err != nil {
		return err
	}
	sched, err := s.newScheduler(reg, schedule, reportEncoder(cmd.OutOrStdout()))
	if err != nil {
		return exitError(exitValidation, "drift: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if s.cfg.Store != config.StoreSQLite {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watchManifests(ctx, reg)
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return exitError(exitRuntime, "drift: %v", err)
	}
	s.logger.Info("drift: watching", "schedule", schedule, "tools", reg.Len())

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		s.logger.Warn("drift: stop timed out", "error", err)
	}
	wg.Wait()
	return nil
}

// watchManifests keeps reg in sync with the manifest directory until ctx
// ends.
func (s *session) watchManifests(ctx context.Context, reg *manifest.Registry) {
	dir := s.cfg.ManifestDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.logger.Warn("drift: manifest directory unavailable", "dir", dir, "error", err)
		return
	}
	err := manifest.Watch(ctx, dir, reg, func(err error) {
		if err != nil {
			s.logger.Warn("drift: manifest reload failed", "dir", dir, "error", err)
			return
		}
		s.logger.Debug("drift: manifests reloaded", "dir", dir, "tools", reg.Len())
	})
	if err != nil {
		s.logger.Warn("drift: manifest watcher stopped", "dir", dir, "error", err)
	}
}

func (s *session) newScheduler(reg *manifest.Registry, schedule string, onReport func(drift.Report)) (*drift.Scheduler, error) {
	return drift.NewScheduler(drift.Config{
		Schedule: schedule,
		Registry: reg,
		Executor: s.executor,
		Logger:   s.logger,
		OnReport: onReport,
		Bind: func(m manifest.Manifest, e *bridge.Executor) adapters.Binding {
			b := adapters.FromManifest(m, e)
			b.Apply(s.cfg.Overrides(m.Name))
			return b
		},
	})
}

// reportEncoder writes each report as one JSON line. Reports may arrive from
// the scheduler goroutine.
func reportEncoder(w io.Writer) func(drift.Report) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(r drift.Report) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(r)
	}
}
