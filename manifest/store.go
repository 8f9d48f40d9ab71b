package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Store persists manifests keyed by name.
type Store interface {
	List(ctx context.Context) ([]Manifest, error)
	Get(ctx context.Context, name string) (Manifest, bool, error)
	Upsert(ctx context.Context, m Manifest) error
	Delete(ctx context.Context, name string) error
}

// LoadStore copies every manifest held by s into r.
func LoadStore(ctx context.Context, s Store, r *Registry) error {
	ms, err := s.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range ms {
		if err := r.Add(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DirStore keeps one manifest file per tool in a directory. Writes go to the
// path given by PathFor; hand-written <name>.yaml and <name>.yml files are
// read as well, matching what Registry.LoadDir accepts.
type DirStore struct {
	dir string
	mu  sync.RWMutex
}

// NewDirStore creates a directory-backed store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// List returns every manifest in the directory ordered by name. A missing
// directory is empty.
func (s *DirStore) List(ctx context.Context) ([]Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Manifest{}, nil
		}
		return nil, fmt.Errorf("manifest: read store dir: %w", err)
	}

	out := make([]Manifest, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		m, err := Load(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Manifest) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Get returns the manifest stored under name.
func (s *DirStore) Get(ctx context.Context, name string) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	if err := s.check(); err != nil {
		return Manifest{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, path := range s.pathsFor(name) {
		m, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Manifest{}, false, err
		}
		return m, true, nil
	}
	return Manifest{}, false, nil
}

// Upsert validates m and writes it, replacing an existing file.
func (s *DirStore) Upsert(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}
	if err := Validate(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Save(m, PathFor(s.dir, m.Name)); err != nil {
		return err
	}
	// A YAML file under the same name would otherwise shadow the update.
	return s.remove(m.Name, s.pathsFor(m.Name)[1:])
}

// Delete removes the manifest stored under name. Deleting a missing name is
// a no-op.
func (s *DirStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remove(name, s.pathsFor(name))
}

// pathsFor lists the files that may hold name, canonical path first.
func (s *DirStore) pathsFor(name string) []string {
	return []string{
		PathFor(s.dir, name),
		filepath.Join(s.dir, name+".yaml"),
		filepath.Join(s.dir, name+".yml"),
	}
}

func (s *DirStore) remove(name string, paths []string) error {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("manifest: delete %q: %w", name, err)
		}
	}
	return nil
}

func (s *DirStore) check() error {
	if s == nil {
		return errors.New("manifest: dir store is nil")
	}
	if strings.TrimSpace(s.dir) == "" {
		return errors.New("manifest: dir store path is empty")
	}
	return nil
}

var _ Store = (*DirStore)(nil)
