package cli

import (
	"slices"
	"strings"
	"testing"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/manifest"
)

func TestRunCodexify(t *testing.T) {
	cfg, _ := testConfig(t, map[string]string{manifest.ToolCodexify: "codexify"})

	stdout, stderr, err := executeCommand(newTestRoot(),
		"run", "codexify", "--config", cfg,
		"-i", `{"file_path":"/notes/today.md","tags":["a","b"]}`,
	)
	if err != nil {
		t.Fatalf("run error = %v\nstderr: %s", err, stderr)
	}

	env := decodeEnvelope[adapters.CodexifyResponse](t, stdout)
	if !env.Success || env.Data == nil {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Data.NodeID != "node-today.md" || !slices.Equal(env.Data.Tags, []string{"a", "b"}) {
		t.Fatalf("data = %+v", *env.Data)
	}
	if !env.Data.CreatedAt.Equal(fixedTime) {
		t.Fatalf("CreatedAt = %s", env.Data.CreatedAt)
	}
	if env.Metadata.ToolName != "codexify" || env.Metadata.Version != "1.0.0" {
		t.Fatalf("metadata = %+v", env.Metadata)
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	cfg, _ := testConfig(t, map[string]string{manifest.ToolCodexify: "codexify"})

	stdout, _, err := executeCommand(newTestRoot(),
		"run", "codexify", "--config", cfg,
		"-i", `{"file_path":"x"}`,
		"--env", "CLI_HELPER_MODE=sleep",
		"--timeout", "200ms",
	)
	wantExitCode(t, err, exitTimeout)

	env := decodeEnvelope[adapters.CodexifyResponse](t, stdout)
	if env.Success || env.Error != "process timeout after 200ms" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRunRequestShapeMismatch(t *testing.T) {
	cfg, _ := testConfig(t, map[string]string{manifest.ToolCodexify: "codexify"})

	stdout, _, err := executeCommand(newTestRoot(),
		"run", "codexify", "--config", cfg, "-i", `{"file_path":5}`,
	)
	wantExitCode(t, err, exitInputParse)
	env := decodeEnvelope[adapters.CodexifyResponse](t, stdout)
	if env.Success || !strings.Contains(env.Error, "json serialization error") {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRunUnknownTool(t *testing.T) {
	cfg, _ := testConfig(t, nil)

	stdout, _, err := executeCommand(newTestRoot(), "run", "nope", "--config", cfg, "-i", "{}")
	wantExitCode(t, err, exitFileNotFound)
	if stdout != "" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunManifestBoundTool(t *testing.T) {
	cfg, manifestDir := testConfig(t, map[string]string{"echo_tool": "echo"})
	m := manifest.Manifest{
		Name:                   "echo_tool",
		Version:                "0.2.0",
		Description:            "Echoes its request",
		ImplementationLanguage: "go",
		EntryPoint:             "echo-tool",
		Capabilities:           []string{},
		DefaultTimeoutSec:      5,
		Requirements:           map[string]string{},
		Inputs: map[string]manifest.InputSchema{
			"q": {Type: manifest.TypeString, Required: true},
		},
		Outputs: map[string]manifest.OutputSchema{
			"echo": {Type: manifest.TypeObject},
		},
	}
	if err := manifest.Save(m, manifest.PathFor(manifestDir, m.Name)); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := executeCommand(newTestRoot(),
		"run", "echo_tool", "--config", cfg, "-i", `{"q":"hi"}`,
	)
	if err != nil {
		t.Fatalf("run error = %v\nstderr: %s", err, stderr)
	}
	env := decodeEnvelope[map[string]map[string]any](t, stdout)
	if !env.Success || (*env.Data)["echo"]["q"] != "hi" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Metadata.ToolName != "echo_tool" || env.Metadata.Version != "0.2.0" {
		t.Fatalf("metadata = %+v", env.Metadata)
	}
}
