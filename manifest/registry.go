package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"

	"github.com/petal-labs/clibridge/bridge"
)

// ErrContractChanged is returned when a manifest's inputs or outputs change
// without a version bump.
var ErrContractChanged = errors.New("manifest: inputs/outputs changed without a version bump")

// ConflictError reports two manifests that claim the same name for different
// entry points.
type ConflictError struct {
	Name     string
	Existing string
	Incoming string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("manifest: name %q already bound to %s, cannot bind %s", e.Name, e.Existing, e.Incoming)
}

// Registry is a name-keyed set of manifests managed together. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]Manifest
}

// NewRegistry creates a registry holding ms. It fails on the first invalid or
// conflicting manifest.
func NewRegistry(ms ...Manifest) (*Registry, error) {
	r := &Registry{manifests: make(map[string]Manifest, len(ms))}
	for _, m := range ms {
		if err := r.Add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add validates m and stores it under its name. Re-adding a name with the
// same entry point replaces the stored manifest, subject to CheckUpgrade; a
// different entry point is a *ConflictError.
func (r *Registry) Add(m Manifest) error {
	if err := Validate(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manifests == nil {
		r.manifests = make(map[string]Manifest)
	}
	return r.addLocked(m)
}

func (r *Registry) addLocked(m Manifest) error {
	if existing, ok := r.manifests[m.Name]; ok {
		if existing.EntryPoint != m.EntryPoint {
			return &ConflictError{Name: m.Name, Existing: existing.EntryPoint, Incoming: m.EntryPoint}
		}
		if err := CheckUpgrade(existing, m); err != nil {
			return err
		}
	}
	r.manifests[m.Name] = m.Clone()
	return nil
}

// Get returns the manifest registered under name or *bridge.ToolNotFoundError.
func (r *Registry) Get(name string) (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	if !ok {
		return Manifest{}, &bridge.ToolNotFoundError{Name: name}
	}
	return m.Clone(), nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// List returns every registered manifest ordered by name.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manifest, 0, len(r.manifests))
	for _, name := range r.namesLocked() {
		out = append(out, r.manifests[name].Clone())
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.manifests))
	for name := range r.manifests {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered manifests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// LoadDir loads every .json, .yaml and .yml file in dir into the registry.
// Files are processed in name order; unreadable, invalid and conflicting
// files are collected and returned together while the rest are added.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	ms, paths, errs := readDir(dir)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manifests == nil {
		r.manifests = make(map[string]Manifest)
	}

	loaded := make([]string, 0, len(ms))
	for i, m := range ms {
		if err := r.addLocked(m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", paths[i], err))
			continue
		}
		loaded = append(loaded, m.Name)
	}
	return loaded, errors.Join(errs...)
}

// ReloadDir replaces the registry contents with the manifests in dir. The
// registry is left unchanged when any file fails.
func (r *Registry) ReloadDir(dir string) error {
	fresh := &Registry{manifests: make(map[string]Manifest)}
	if _, err := fresh.LoadDir(dir); err != nil {
		return err
	}

	r.mu.Lock()
	r.manifests = fresh.manifests
	r.mu.Unlock()
	return nil
}

func readDir(dir string) ([]Manifest, []string, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, []error{fmt.Errorf("manifest: read dir %s: %w", dir, err)}
	}

	var (
		ms    []Manifest
		paths []string
		errs  []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := Validate(m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		ms = append(ms, m)
		paths = append(paths, path)
	}
	return ms, paths, errs
}

// CheckUpgrade reports whether next may replace prev. Inputs and outputs of
// a published version are immutable, so changing them requires a different
// version string.
func CheckUpgrade(prev, next Manifest) error {
	if prev.Name != next.Name {
		return fmt.Errorf("manifest: cannot upgrade %q with %q", prev.Name, next.Name)
	}
	if prev.Version != next.Version {
		return nil
	}
	if !sameFields(prev.Inputs, next.Inputs) || !sameFields(prev.Outputs, next.Outputs) {
		return fmt.Errorf("%w: %s@%s", ErrContractChanged, next.Name, next.Version)
	}
	return nil
}

// sameFields treats nil and empty maps as equal.
func sameFields[V any](a, b map[string]V) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
