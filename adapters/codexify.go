package adapters

import (
	"time"

	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// PythonCommand is the interpreter used for python tools.
const PythonCommand = "python3"

// CodexifyRequest asks codexify to turn a file or folder into a knowledge
// graph node.
type CodexifyRequest struct {
	FilePath string            `json:"file_path"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CodexifyResponse describes the node codexify created or updated.
type CodexifyResponse struct {
	NodeID    string            `json:"node_id"`
	Summary   string            `json:"summary"`
	Metadata  map[string]string `json:"metadata"`
	Tags      []string          `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
}

// CodexifyAdapter is the typed codexify binding.
type CodexifyAdapter = Adapter[CodexifyRequest, CodexifyResponse]

// NewCodexify returns the codexify binding with its built-in defaults.
func NewCodexify(executor *bridge.Executor) *CodexifyAdapter {
	return &CodexifyAdapter{
		Name:           manifest.ToolCodexify,
		Version:        "1.0.0",
		Command:        PythonCommand,
		EntryPoint:     "guardian-backend_v2/codexify/main.py",
		DefaultTimeout: 60 * time.Second,
		Executor:       executor,
	}
}
