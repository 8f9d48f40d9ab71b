package manifest

import (
	"maps"
	"slices"
	"time"
)

// Field type tags accepted in InputSchema and OutputSchema.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// Capability tags used by the built-in manifests.
const (
	CapabilityFSRead        = "fs:read"
	CapabilityFSWrite       = "fs:write"
	CapabilityMemoryIndex   = "memory:index"
	CapabilityMemoryProcess = "memory:process"
	CapabilityLLM           = "llm"
	CapabilityRitualExecute = "ritual:execute"
	CapabilitySyncMemory    = "sync:memory"
)

// Manifest is the declarative contract of one external tool. Name is the
// registry key. Once a version is published its Inputs and Outputs are
// treated as immutable; contract changes require a version bump.
type Manifest struct {
	Name                   string                  `json:"name" validate:"required,toolname"`
	Version                string                  `json:"version" validate:"required"`
	Description            string                  `json:"description" validate:"required"`
	ImplementationLanguage string                  `json:"implementation_language" validate:"required"`
	EntryPoint             string                  `json:"entry_point" validate:"required"`
	Capabilities           []string                `json:"capabilities" validate:"unique,dive,required"`
	SchemaRef              string                  `json:"schema_ref,omitempty"`
	DefaultTimeoutSec      int                     `json:"default_timeout_sec" validate:"gt=0"`
	Requirements           map[string]string       `json:"requirements" validate:"dive,keys,required,endkeys"`
	Inputs                 map[string]InputSchema  `json:"inputs" validate:"dive,keys,required,endkeys"`
	Outputs                map[string]OutputSchema `json:"outputs" validate:"dive,keys,required,endkeys"`
}

// InputSchema declares one request field.
type InputSchema struct {
	Type        string `json:"type" validate:"required,fieldtype"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     Value  `json:"default,omitempty" validate:"omitempty,json"`
}

// OutputSchema declares one response field.
type OutputSchema struct {
	Type        string `json:"type" validate:"required,fieldtype"`
	Description string `json:"description"`
}

// DefaultTimeout returns DefaultTimeoutSec as a duration.
func (m Manifest) DefaultTimeout() time.Duration {
	return time.Duration(m.DefaultTimeoutSec) * time.Second
}

// HasCapability reports whether the manifest declares tag.
func (m Manifest) HasCapability(tag string) bool {
	return slices.Contains(m.Capabilities, tag)
}

// InputNames returns declared input names in deterministic order.
func (m Manifest) InputNames() []string {
	return slices.Sorted(maps.Keys(m.Inputs))
}

// OutputNames returns declared output names in deterministic order.
func (m Manifest) OutputNames() []string {
	return slices.Sorted(maps.Keys(m.Outputs))
}

// Clone returns a deep copy of m.
func (m Manifest) Clone() Manifest {
	out := m
	out.Capabilities = slices.Clone(m.Capabilities)
	out.Requirements = maps.Clone(m.Requirements)
	out.Inputs = maps.Clone(m.Inputs)
	out.Outputs = maps.Clone(m.Outputs)
	return out
}
