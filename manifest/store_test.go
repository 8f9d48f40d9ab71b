package manifest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
)

func newSQLiteManifestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "manifests.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"dir": func(t *testing.T) Store {
			return NewDirStore(filepath.Join(t.TempDir(), "manifests"))
		},
		"sqlite": func(t *testing.T) Store {
			return newSQLiteManifestStore(t)
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() on empty store error = %v", err)
			}
			if len(list) != 0 {
				t.Fatalf("len(List()) = %d, want 0", len(list))
			}

			for _, m := range []Manifest{Defaults()[1], Defaults()[0]} {
				if err := store.Upsert(ctx, m); err != nil {
					t.Fatalf("Upsert(%s) error = %v", m.Name, err)
				}
			}

			got, ok, err := store.Get(ctx, ToolCodexify)
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v, err %v", ok, err)
			}
			want, _ := Default(ToolCodexify)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Get() = %#v, want %#v", got, want)
			}

			list, err = store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != 2 || list[0].Name != ToolCodexify || list[1].Name != ToolRitualEngine {
				t.Fatalf("List() names out of order: %+v", list)
			}

			updated := want.Clone()
			updated.Version = "1.1.0"
			if err := store.Upsert(ctx, updated); err != nil {
				t.Fatalf("Upsert(updated) error = %v", err)
			}
			got, _, _ = store.Get(ctx, ToolCodexify)
			if got.Version != "1.1.0" {
				t.Fatalf("Version after update = %q", got.Version)
			}

			invalid := want.Clone()
			invalid.DefaultTimeoutSec = 0
			var verr *ValidationError
			if err := store.Upsert(ctx, invalid); !errors.As(err, &verr) {
				t.Fatalf("Upsert(invalid) error = %v, want *ValidationError", err)
			}

			if err := store.Delete(ctx, ToolCodexify); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := store.Delete(ctx, ToolCodexify); err != nil {
				t.Fatalf("Delete(missing) error = %v", err)
			}
			if _, ok, err := store.Get(ctx, ToolCodexify); err != nil || ok {
				t.Fatalf("Get(deleted) = ok %v, err %v", ok, err)
			}

			var r Registry
			if err := LoadStore(ctx, store, &r); err != nil {
				t.Fatalf("LoadStore() error = %v", err)
			}
			if !reflect.DeepEqual(r.Names(), []string{ToolRitualEngine}) {
				t.Fatalf("registry names = %v", r.Names())
			}
		})
	}
}

func TestStoresHonorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, store := range []Store{NewDirStore(t.TempDir()), newSQLiteManifestStore(t)} {
		if _, err := store.List(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("%T.List() error = %v", store, err)
		}
		if err := store.Upsert(ctx, validManifest()); !errors.Is(err, context.Canceled) {
			t.Fatalf("%T.Upsert() error = %v", store, err)
		}
	}
}

func TestSQLiteStoreWritesVersionColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Upsert(context.Background(), validManifest()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	var version string
	if err := db.QueryRow(`SELECT version FROM capability_manifests WHERE name = ?`, ToolCodexify).Scan(&version); err != nil {
		t.Fatalf("query version error = %v", err)
	}
	if version != "1.0.0" {
		t.Fatalf("version = %q, want 1.0.0", version)
	}
}

func TestNewSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(" "); err == nil {
		t.Fatal("NewSQLiteStore(blank) expected error")
	}
}

func TestDirStoreRequiresPath(t *testing.T) {
	if _, err := NewDirStore("").List(context.Background()); err == nil {
		t.Fatal("List() with empty dir expected error")
	}
}

const yamlManifestDoc = `name: fmt_tool
version: 0.2.0
description: Formats a file
implementation_language: node
entry_point: tools/fmt.js
capabilities: [fs:read]
default_timeout_sec: 15
requirements: {}
inputs:
  path:
    type: string
    description: File to format
    required: true
outputs: {}
`

func TestDirStoreMatchesLoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := Save(Defaults()[0], PathFor(dir, Defaults()[0].Name)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	yamlPath := filepath.Join(dir, "fmt_tool.yml")
	if err := os.WriteFile(yamlPath, []byte(yamlManifestDoc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewDirStore(dir)
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	fromStore := &Registry{}
	for _, m := range list {
		if err := fromStore.Add(m); err != nil {
			t.Fatalf("Add(%s) error = %v", m.Name, err)
		}
	}
	fromDir := &Registry{}
	if _, err := fromDir.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if !slices.Equal(fromStore.Names(), fromDir.Names()) {
		t.Fatalf("store names %v, dir names %v", fromStore.Names(), fromDir.Names())
	}

	m, ok, err := store.Get(ctx, "fmt_tool")
	if err != nil || !ok || m.EntryPoint != "tools/fmt.js" {
		t.Fatalf("Get(fmt_tool) = %+v, %v, %v", m, ok, err)
	}

	m.Version = "0.3.0"
	if err := store.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := os.Stat(yamlPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("yaml file still present after upsert: %v", err)
	}
	if got, _, _ := store.Get(ctx, "fmt_tool"); got.Version != "0.3.0" {
		t.Fatalf("Get() after upsert version = %q", got.Version)
	}

	if err := os.WriteFile(filepath.Join(dir, "yaml_only.yaml"), []byte(strings.Replace(yamlManifestDoc, "fmt_tool", "yaml_only", 1)), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := store.Delete(ctx, "yaml_only"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "yaml_only"); ok {
		t.Fatal("yaml_only still present after Delete")
	}
}
