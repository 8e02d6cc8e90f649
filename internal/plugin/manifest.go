package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFiles lists accepted manifest file names in lookup order.
var ManifestFiles = []string{
	"manifest.json",
	"plugin.json",
	"manifest.yaml",
	"manifest.yml",
}

// IsManifestFile reports whether a file name is one of ManifestFiles.
func IsManifestFile(name string) bool {
	base := filepath.Base(name)
	for _, m := range ManifestFiles {
		if base == m {
			return true
		}
	}
	return false
}

// ParseManifest decodes manifest content. The format is chosen by the file
// name's extension. Defaults are not applied so the result can be layered
// with Merge. Parse failures wrap ErrMalformedManifest.
func ParseManifest(name string, data []byte) (*Descriptor, error) {
	var d Descriptor
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, name, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, name, err)
		}
	}

	// Language arrives as free text
	if d.Language != "" {
		d.Language = ParseLanguage(string(d.Language))
	}
	return &d, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(path, data)
}

// LoadManifestFromDir loads the first manifest found in a plugin directory.
// Returns nil, "", nil when the directory has no manifest.
func LoadManifestFromDir(dir string) (*Descriptor, string, error) {
	for _, name := range ManifestFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		d, err := LoadManifest(path)
		if err != nil {
			return nil, path, err
		}
		return d, path, nil
	}
	return nil, "", nil
}

// WriteManifest writes the descriptor as manifest.json in dir.
func WriteManifest(dir string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFiles[0]), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
