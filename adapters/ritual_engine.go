package adapters

import (
	"time"

	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// RitualEngineRequest asks the ritual engine to perform one ritual.
type RitualEngineRequest struct {
	RitualType string            `json:"ritual_type"`
	Parameters map[string]string `json:"parameters"`
	Context    string            `json:"context,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RitualEngineResponse reports the outcome of a ritual.
type RitualEngineResponse struct {
	RitualID    string            `json:"ritual_id"`
	Status      string            `json:"status"`
	Result      map[string]string `json:"result"`
	Logs        []string          `json:"logs"`
	Metadata    map[string]string `json:"metadata"`
	CompletedAt time.Time         `json:"completed_at"`
}

// RitualEngineAdapter is the typed ritual_engine binding.
type RitualEngineAdapter = Adapter[RitualEngineRequest, RitualEngineResponse]

// NewRitualEngine returns the ritual_engine binding with its built-in
// defaults.
func NewRitualEngine(executor *bridge.Executor) *RitualEngineAdapter {
	return &RitualEngineAdapter{
		Name:           manifest.ToolRitualEngine,
		Version:        "1.0.0",
		Command:        PythonCommand,
		EntryPoint:     "guardian-backend_v2/ritual_engine/main.py",
		DefaultTimeout: 120 * time.Second,
		Executor:       executor,
	}
}
