package cli

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/petal-labs/clibridge/drift"
	"github.com/petal-labs/clibridge/manifest"
)

func decodeReports(t *testing.T, stdout string) []drift.Report {
	t.Helper()
	var reports []drift.Report
	dec := json.NewDecoder(strings.NewReader(stdout))
	for dec.More() {
		var r drift.Report
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decoding report: %v\n%s", err, stdout)
		}
		reports = append(reports, r)
	}
	return reports
}

func saveDefault(t *testing.T, dir, name string) {
	t.Helper()
	m, err := manifest.Default(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := manifest.Save(m, manifest.PathFor(dir, name)); err != nil {
		t.Fatal(err)
	}
}

func TestDriftCheckInSync(t *testing.T) {
	cfg, manifestDir := testConfig(t, map[string]string{manifest.ToolCodexify: "codexify"})
	saveDefault(t, manifestDir, manifest.ToolCodexify)

	stdout, stderr, err := executeCommand(newTestRoot(), "drift", "check", "--config", cfg)
	if err != nil {
		t.Fatalf("drift check error = %v\nstderr: %s", err, stderr)
	}
	reports := decodeReports(t, stdout)
	if len(reports) != 1 || reports[0].Tool != "codexify" || reports[0].Error != "" {
		t.Fatalf("reports = %+v", reports)
	}
	if !reports[0].Drift.Empty() {
		t.Fatalf("drift = %+v", reports[0].Drift)
	}
}

func TestDriftCheckReportsDrift(t *testing.T) {
	cfg, manifestDir := testConfig(t, map[string]string{
		manifest.ToolCodexify:     "codexify_drift",
		manifest.ToolRitualEngine: "exit3",
	})
	saveDefault(t, manifestDir, manifest.ToolCodexify)
	saveDefault(t, manifestDir, manifest.ToolRitualEngine)

	stdout, _, err := executeCommand(newTestRoot(), "drift", "check", "--config", cfg)
	wantExitCode(t, err, exitValidation)

	reports := decodeReports(t, stdout)
	if len(reports) != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	if reports[0].Tool != "codexify" || !slices.Equal(reports[0].Drift.ExtraInputs, []string{"depth"}) {
		t.Fatalf("codexify report = %+v", reports[0])
	}
	if reports[1].Tool != "ritual_engine" || !strings.Contains(reports[1].Error, "non-zero status: 3") {
		t.Fatalf("ritual_engine report = %+v", reports[1])
	}
}

func TestDriftWatchRejectsSchedule(t *testing.T) {
	cfg, _ := testConfig(t, nil)

	_, _, err := executeCommand(newTestRoot(), "drift", "watch", "--config", cfg, "--schedule", "CRON_TZ=UTC 0 * * * *")
	wantExitCode(t, err, exitValidation)
}
