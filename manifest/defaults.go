package manifest

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/petal-labs/clibridge/bridge"
)

// Names of the built-in tools.
const (
	ToolCodexify     = "codexify"
	ToolRitualEngine = "ritual_engine"
)

// defaultBuilders produce fresh copies so callers may mutate what they get.
var defaultBuilders = map[string]func() Manifest{
	ToolCodexify:     codexifyManifest,
	ToolRitualEngine: ritualEngineManifest,
}

// Default returns the compiled-in manifest for toolID.
func Default(toolID string) (Manifest, error) {
	build, ok := defaultBuilders[toolID]
	if !ok {
		return Manifest{}, &bridge.ToolNotFoundError{Name: toolID}
	}
	return build(), nil
}

// Defaults returns every built-in manifest ordered by name.
func Defaults() []Manifest {
	names := make([]string, 0, len(defaultBuilders))
	for name := range defaultBuilders {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]Manifest, 0, len(names))
	for _, name := range names {
		out = append(out, defaultBuilders[name]())
	}
	return out
}

// Bootstrap writes every built-in manifest to PathFor(dir, name). Existing
// files are left alone unless force is set. It returns the paths written.
func Bootstrap(dir string, force bool) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("manifest: bootstrap dir is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("manifest: create %s: %w", dir, err)
	}

	var written []string
	for _, m := range Defaults() {
		path := PathFor(dir, m.Name)
		if !force {
			if _, err := os.Stat(path); err == nil {
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return written, fmt.Errorf("manifest: stat %s: %w", path, err)
			}
		}
		if err := Save(m, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func codexifyManifest() Manifest {
	return Manifest{
		Name:                   ToolCodexify,
		Version:                "1.0.0",
		Description:            "Converts local files and memory logs into structured knowledge graph entries",
		ImplementationLanguage: "python",
		EntryPoint:             "guardian-backend_v2/codexify/main.py",
		Capabilities: []string{
			CapabilityFSRead,
			CapabilityFSWrite,
			CapabilityMemoryIndex,
			CapabilityLLM,
		},
		SchemaRef:         "schemas/codexify.json",
		DefaultTimeoutSec: 60,
		Requirements: map[string]string{
			"python":   ">=3.10",
			"openai":   "*",
			"chromadb": "*",
			"tiktoken": "*",
		},
		Inputs: map[string]InputSchema{
			"file_path": {
				Type:        TypeString,
				Description: "Path to the file or folder to codexify",
				Required:    true,
			},
			"tags": {
				Type:        TypeArray,
				Description: "Optional tags to associate with this node",
				Default:     Value("[]"),
			},
		},
		Outputs: map[string]OutputSchema{
			"node_id": {
				Type:        TypeString,
				Description: "ID of the created or updated Codex node",
			},
			"summary": {
				Type:        TypeString,
				Description: "Summary of the codified input",
			},
		},
	}
}

func ritualEngineManifest() Manifest {
	return Manifest{
		Name:                   ToolRitualEngine,
		Version:                "1.0.0",
		Description:            "Executes memory and ritual operations for ThreadSpace",
		ImplementationLanguage: "python",
		EntryPoint:             "guardian-backend_v2/ritual_engine/main.py",
		Capabilities: []string{
			CapabilityMemoryProcess,
			CapabilityRitualExecute,
			CapabilitySyncMemory,
		},
		SchemaRef:         "schemas/ritual_engine.json",
		DefaultTimeoutSec: 120,
		Requirements: map[string]string{
			"python":   ">=3.10",
			"requests": "*",
			"pyyaml":   "*",
		},
		Inputs: map[string]InputSchema{
			"ritual_type": {
				Type:        TypeString,
				Description: "Type of ritual to perform",
				Required:    true,
			},
			"parameters": {
				Type:        TypeObject,
				Description: "Parameters for the ritual",
				Required:    true,
			},
		},
		Outputs: map[string]OutputSchema{
			"ritual_id": {
				Type:        TypeString,
				Description: "ID of the created ritual",
			},
			"status": {
				Type:        TypeString,
				Description: "Status of the ritual execution",
			},
		},
	}
}
