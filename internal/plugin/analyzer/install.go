package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/plugforge/internal/plugin"
)

// Install analyzes the artifact at path and lays it out under pluginsDir
// as <id>/ holding the plugin's files and a manifest.json with the
// analyzed descriptor. An existing directory for the same id is replaced.
// It returns the descriptor and the plugin directory.
func (a *Analyzer) Install(ctx context.Context, path, pluginsDir string) (*plugin.Descriptor, string, error) {
	data, err := a.readArtifact(path)
	if err != nil {
		return nil, "", err
	}
	name := filepath.Base(path)
	kind := KindOf(name)

	if kind == KindSource {
		d, err := a.AnalyzeSource(name, data)
		if err != nil {
			return nil, "", err
		}
		dest, err := a.prepareDir(pluginsDir, d)
		if err != nil {
			return nil, "", err
		}
		if err := os.WriteFile(filepath.Join(dest, d.Entry), data, 0o644); err != nil {
			return nil, "", fmt.Errorf("write entry: %w", err)
		}
		if err := plugin.WriteManifest(dest, d); err != nil {
			return nil, "", err
		}
		return d, dest, nil
	}

	var (
		desc *plugin.Descriptor
		dest string
	)
	err = a.withExtracted(ctx, name, kind, data, func(root string) error {
		d, err := a.resolve(root, name)
		if err != nil {
			return err
		}
		if dest, err = a.prepareDir(pluginsDir, d); err != nil {
			return err
		}
		if err := os.CopyFS(dest, os.DirFS(root)); err != nil {
			return fmt.Errorf("copy plugin files: %w", err)
		}
		desc = d
		return plugin.WriteManifest(dest, d)
	})
	if err != nil {
		return nil, "", err
	}
	a.logger.Info("installed plugin files", "id", desc.ID, "dir", dest)
	return desc, dest, nil
}

// prepareDir validates the descriptor and returns an empty directory for it.
func (a *Analyzer) prepareDir(pluginsDir string, d *plugin.Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	dest := filepath.Join(pluginsDir, d.ID)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("replace plugin dir: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create plugin dir: %w", err)
	}
	return dest, nil
}
