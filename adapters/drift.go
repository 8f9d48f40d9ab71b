package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/petal-labs/clibridge/manifest"
)

// FieldChange is a field whose reported type differs from the manifest.
type FieldChange struct {
	Field    string `json:"field"`
	Declared string `json:"declared"`
	Reported string `json:"reported"`
}

// Drift lists the differences between a manifest and the schema its tool
// reports about itself. Missing fields are declared but not reported; extra
// fields are reported but not declared.
type Drift struct {
	Tool            string        `json:"tool"`
	DeclaredVersion string        `json:"declared_version"`
	ReportedVersion string        `json:"reported_version,omitempty"`
	MissingInputs   []string      `json:"missing_inputs,omitempty"`
	ExtraInputs     []string      `json:"extra_inputs,omitempty"`
	ChangedInputs   []FieldChange `json:"changed_inputs,omitempty"`
	MissingOutputs  []string      `json:"missing_outputs,omitempty"`
	ExtraOutputs    []string      `json:"extra_outputs,omitempty"`
	ChangedOutputs  []FieldChange `json:"changed_outputs,omitempty"`
}

// Empty reports whether the manifest and the tool agree.
func (d Drift) Empty() bool {
	return !d.VersionChanged() &&
		len(d.MissingInputs) == 0 && len(d.ExtraInputs) == 0 && len(d.ChangedInputs) == 0 &&
		len(d.MissingOutputs) == 0 && len(d.ExtraOutputs) == 0 && len(d.ChangedOutputs) == 0
}

// VersionChanged reports whether the tool reported a different version.
func (d Drift) VersionChanged() bool {
	return d.ReportedVersion != "" && d.ReportedVersion != d.DeclaredVersion
}

func (d Drift) String() string {
	if d.Empty() {
		return d.Tool + ": in sync"
	}
	var parts []string
	if d.VersionChanged() {
		parts = append(parts, fmt.Sprintf("version %s -> %s", d.DeclaredVersion, d.ReportedVersion))
	}
	add := func(label string, names []string) {
		if len(names) > 0 {
			parts = append(parts, label+" "+strings.Join(names, ","))
		}
	}
	changes := func(label string, fields []FieldChange) {
		for _, c := range fields {
			parts = append(parts, fmt.Sprintf("%s %s %s -> %s", label, c.Field, c.Declared, c.Reported))
		}
	}
	add("missing inputs", d.MissingInputs)
	add("extra inputs", d.ExtraInputs)
	changes("input", d.ChangedInputs)
	add("missing outputs", d.MissingOutputs)
	add("extra outputs", d.ExtraOutputs)
	changes("output", d.ChangedOutputs)
	return d.Tool + ": " + strings.Join(parts, "; ")
}

type reportedField struct {
	Type string `json:"type"`
}

type reportedSchema struct {
	Version string                   `json:"version"`
	Inputs  map[string]reportedField `json:"inputs"`
	Outputs map[string]reportedField `json:"outputs"`
}

// CheckDrift compares the inputs and outputs a tool reports through schema
// introspection with those declared in m. The schema must be an object with
// an "inputs" or "outputs" map of {"type": ...} entries; a reported manifest
// document has that shape.
func CheckDrift(m manifest.Manifest, schema json.RawMessage) (Drift, error) {
	var reported reportedSchema
	if err := json.Unmarshal(schema, &reported); err != nil {
		return Drift{}, fmt.Errorf("adapters: decode %s schema: %w", m.Name, err)
	}
	if reported.Inputs == nil && reported.Outputs == nil {
		return Drift{}, errors.New("adapters: " + m.Name + " schema declares neither inputs nor outputs")
	}

	d := Drift{
		Tool:            m.Name,
		DeclaredVersion: m.Version,
		ReportedVersion: reported.Version,
	}
	if reported.Inputs != nil {
		declared := make(map[string]string, len(m.Inputs))
		for name, in := range m.Inputs {
			declared[name] = in.Type
		}
		d.MissingInputs, d.ExtraInputs, d.ChangedInputs = compareFields(declared, reported.Inputs)
	}
	if reported.Outputs != nil {
		declared := make(map[string]string, len(m.Outputs))
		for name, out := range m.Outputs {
			declared[name] = out.Type
		}
		d.MissingOutputs, d.ExtraOutputs, d.ChangedOutputs = compareFields(declared, reported.Outputs)
	}
	return d, nil
}

func compareFields(declared map[string]string, reported map[string]reportedField) (missing, extra []string, changed []FieldChange) {
	for _, name := range slices.Sorted(maps.Keys(declared)) {
		field, ok := reported[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if field.Type != "" && !strings.EqualFold(field.Type, declared[name]) {
			changed = append(changed, FieldChange{Field: name, Declared: declared[name], Reported: field.Type})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(reported)) {
		if _, ok := declared[name]; !ok {
			extra = append(extra, name)
		}
	}
	return missing, extra, changed
}
