package adapters

import (
	"errors"
	"slices"
	"strings"

	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/manifest"
)

// Generic is an adapter bound to a manifest rather than to Go types.
type Generic = Adapter[map[string]any, map[string]any]

var builtins = map[string]func(*bridge.Executor) Binding{
	manifest.ToolCodexify:     func(e *bridge.Executor) Binding { return NewCodexify(e) },
	manifest.ToolRitualEngine: func(e *bridge.Executor) Binding { return NewRitualEngine(e) },
}

// Builtins returns the names of the typed built-in adapters.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns a fresh built-in binding for name, or
// *bridge.ToolNotFoundError.
func Lookup(name string, executor *bridge.Executor) (Binding, error) {
	build, ok := builtins[name]
	if !ok {
		return nil, &bridge.ToolNotFoundError{Name: name}
	}
	return build(executor), nil
}

// Resolve prefers the typed built-in binding and falls back to a manifest
// from reg. A nil registry only resolves built-ins.
func Resolve(name string, reg *manifest.Registry, executor *bridge.Executor) (Binding, error) {
	binding, err := Lookup(name, executor)
	if err == nil {
		return binding, nil
	}
	var notFound *bridge.ToolNotFoundError
	if !errors.As(err, &notFound) || reg == nil {
		return nil, err
	}
	m, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	return FromManifest(m, executor), nil
}

// FromManifest binds m to an untyped adapter. Python and node entry points
// run through their interpreter; anything else is executed directly.
func FromManifest(m manifest.Manifest, executor *bridge.Executor) *Generic {
	a := &Generic{
		Name:           m.Name,
		Version:        m.Version,
		DefaultTimeout: m.DefaultTimeout(),
		Executor:       executor,
	}
	if interpreter := interpreterFor(m.ImplementationLanguage); interpreter != "" {
		a.Command = interpreter
		a.EntryPoint = m.EntryPoint
	} else {
		a.Command = m.EntryPoint
	}
	return a
}

func interpreterFor(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "python3":
		return PythonCommand
	case "node", "nodejs", "javascript", "js":
		return "node"
	default:
		return ""
	}
}
