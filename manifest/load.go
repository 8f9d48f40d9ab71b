package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileExt is the extension of manifest files written by Save and Bootstrap.
const FileExt = ".json"

// PathFor returns the canonical file path of the manifest named name in dir.
func PathFor(dir, name string) string {
	return filepath.Join(dir, name+FileExt)
}

// Load reads a manifest file. Files ending in .yaml or .yml are parsed as
// YAML and converted to the JSON shape first; everything else is JSON.
func Load(path string) (Manifest, error) {
	// #nosec G304 -- manifest paths come from the operator's manifest directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data, isYAML(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest document. Unknown fields are rejected.
func Parse(data []byte, fromYAML bool) (Manifest, error) {
	if fromYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return Manifest{}, err
		}
		data = converted
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parsing JSON: %w", err)
	}
	if dec.More() {
		return Manifest{}, errors.New("parsing JSON: trailing data after manifest")
	}
	return m, nil
}

// Save writes m to path as indented JSON, replacing any existing file.
func Save(m Manifest, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("manifest: replace %s: %w", path, err)
	}
	return nil
}

// Marshal encodes m the way Save writes it.
func Marshal(m Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode %q: %w", m.Name, err)
	}
	return append(data, '\n'), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isManifestFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), FileExt) || isYAML(path)
}

// yamlToJSON converts YAML bytes to JSON so that YAML manifests share the
// JSON decoding path.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting YAML: %w", err)
	}
	return out, nil
}
