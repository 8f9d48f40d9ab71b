// Package config loads the clibridge.yaml file that binds tools to commands
// and selects where manifests are kept.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/clibridge/adapters"
	"github.com/petal-labs/clibridge/bridge"
	"github.com/petal-labs/clibridge/drift"
	"github.com/petal-labs/clibridge/manifest"
)

const (
	projectConfigName = "clibridge.yaml"
	homeConfigName    = "config.yaml"
	homeDirName       = ".clibridge"

	// StoreFile keeps one manifest file per tool in ManifestDir.
	StoreFile = "file"
	// StoreSQLite keeps manifests in the SQLite database at SQLitePath.
	StoreSQLite = "sqlite"
)

// Environment variables read by ApplyEnv and DiscoverPath.
const (
	EnvConfig       = "CLIBRIDGE_CONFIG"
	EnvManifestDir  = "CLIBRIDGE_MANIFEST_DIR"
	EnvOTLPEndpoint = "CLIBRIDGE_OTLP_ENDPOINT"
)

// File is the shape of clibridge.yaml.
type File struct {
	ManifestDir  string          `yaml:"manifest_dir,omitempty"`
	Store        string          `yaml:"store,omitempty"`
	SQLitePath   string          `yaml:"sqlite_path,omitempty"`
	OTLPEndpoint string          `yaml:"otlp_endpoint,omitempty"`
	Tools        map[string]Tool `yaml:"tools,omitempty"`
	Drift        Drift           `yaml:"drift,omitempty"`
}

// Tool overrides the binding of one tool. Empty fields keep the built-in or
// manifest value.
type Tool struct {
	Command    string            `yaml:"command,omitempty"`
	EntryPoint string            `yaml:"entry_point,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	LogIO      *bool             `yaml:"log_io,omitempty"`
}

// Drift configures the drift scheduler.
type Drift struct {
	Schedule string `yaml:"schedule,omitempty"`
}

// Default returns the configuration used when no file is found. Paths are
// rooted at ~/.clibridge under homeDir.
func Default(homeDir string) File {
	base := filepath.Join(homeDir, homeDirName)
	return File{
		ManifestDir: filepath.Join(base, "manifests"),
		Store:       StoreFile,
		SQLitePath:  filepath.Join(base, "manifests.db"),
		Drift:       Drift{Schedule: drift.DefaultSchedule},
	}
}

// DiscoverPath resolves the config location. An empty explicit path falls
// back to $CLIBRIDGE_CONFIG.
func DiscoverPath(explicitPath string) (string, bool, error) {
	if strings.TrimSpace(explicitPath) == "" {
		explicitPath = os.Getenv(EnvConfig)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom resolves the config location with first-match semantics:
// the explicit path, then ./clibridge.yaml, then ~/.clibridge/config.yaml.
// A missing explicit path is an error; missing defaults are not.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates,
			filepath.Join(cwd, projectConfigName),
			filepath.Join(homeDir, homeDirName, homeConfigName),
		)
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads path over Default(homeDir). Environment references in string
// values are expanded and relative paths resolve against the file's
// directory.
func Load(path, homeDir string) (File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Default(homeDir)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.expand(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return File{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Resolve discovers and loads the config, applying environment overrides.
// It returns the path used, or "" when defaults were used.
func Resolve(explicitPath string) (File, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return File{}, "", fmt.Errorf("resolve user home: %w", err)
	}
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return File{}, "", err
	}

	cfg := Default(homeDir)
	if found {
		if cfg, err = Load(path, homeDir); err != nil {
			return File{}, "", err
		}
	}
	cfg.ApplyEnv()
	return cfg, path, nil
}

// ApplyEnv overrides the manifest directory and OTLP endpoint from the
// environment.
func (f *File) ApplyEnv() {
	if dir := strings.TrimSpace(os.Getenv(EnvManifestDir)); dir != "" {
		f.ManifestDir = filepath.Clean(dir)
	}
	if endpoint := strings.TrimSpace(os.Getenv(EnvOTLPEndpoint)); endpoint != "" {
		f.OTLPEndpoint = endpoint
	}
}

// Validate checks store selection, tool overrides and the drift schedule.
func (f File) Validate() error {
	switch f.Store {
	case "", StoreFile:
		if strings.TrimSpace(f.ManifestDir) == "" {
			return &bridge.ConfigError{Field: "manifest_dir", Message: "is required for the file store"}
		}
	case StoreSQLite:
		if strings.TrimSpace(f.SQLitePath) == "" {
			return &bridge.ConfigError{Field: "sqlite_path", Message: "is required for the sqlite store"}
		}
	default:
		return &bridge.ConfigError{Field: "store", Message: fmt.Sprintf("unsupported store %q", f.Store)}
	}

	for _, name := range slices.Sorted(maps.Keys(f.Tools)) {
		tool := f.Tools[name]
		field := "tools." + name
		if strings.TrimSpace(name) == "" {
			return &bridge.ConfigError{Field: "tools", Message: "tool name must not be empty"}
		}
		if tool.Timeout < 0 {
			return &bridge.ConfigError{Field: field + ".timeout", Message: "must not be negative"}
		}
		cfg := bridge.ExecConfig{Timeout: time.Second, Env: tool.Env}
		var cfgErr *bridge.ConfigError
		if err := cfg.Validate(); errors.As(err, &cfgErr) {
			return &bridge.ConfigError{Field: field + ".env", Message: cfgErr.Message}
		}
	}

	if f.Drift.Schedule != "" {
		if _, err := drift.ParseSchedule(f.Drift.Schedule); err != nil {
			return &bridge.ConfigError{Field: "drift.schedule", Message: err.Error()}
		}
	}
	return nil
}

// Overrides returns the adapter overrides configured for name.
func (f File) Overrides(name string) adapters.Overrides {
	tool, ok := f.Tools[name]
	if !ok {
		return adapters.Overrides{}
	}
	return adapters.Overrides{
		Command:    tool.Command,
		EntryPoint: tool.EntryPoint,
		Args:       slices.Clone(tool.Args),
		Timeout:    tool.Timeout,
		WorkingDir: tool.WorkingDir,
		Env:        maps.Clone(tool.Env),
		LogIO:      tool.LogIO,
	}
}

// OpenStore opens the configured manifest store. The returned close function
// is never nil.
func (f File) OpenStore() (manifest.Store, func() error, error) {
	switch f.Store {
	case StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(f.SQLitePath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := manifest.NewSQLiteStore(f.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return manifest.NewDirStore(f.ManifestDir), func() error { return nil }, nil
	}
}

func (f *File) expand(baseDir string) {
	f.ManifestDir = resolvePath(baseDir, f.ManifestDir)
	f.SQLitePath = resolvePath(baseDir, f.SQLitePath)
	f.Store = strings.ToLower(strings.TrimSpace(f.Store))
	f.OTLPEndpoint = strings.TrimSpace(os.ExpandEnv(f.OTLPEndpoint))
	f.Drift.Schedule = strings.TrimSpace(f.Drift.Schedule)

	for name, tool := range f.Tools {
		tool.Command = strings.TrimSpace(os.ExpandEnv(tool.Command))
		tool.EntryPoint = strings.TrimSpace(os.ExpandEnv(tool.EntryPoint))
		tool.WorkingDir = resolvePath(baseDir, tool.WorkingDir)
		for i, arg := range tool.Args {
			tool.Args[i] = os.ExpandEnv(arg)
		}
		if len(tool.Env) > 0 {
			env := make(map[string]string, len(tool.Env))
			for key, value := range tool.Env {
				env[key] = os.ExpandEnv(value)
			}
			tool.Env = env
		}
		f.Tools[name] = tool
	}
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(os.ExpandEnv(p))
	if p == "" {
		return ""
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
