package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/js"
	"github.com/dshills/plugforge/internal/plugin/lua"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Discover returns the ids of every plugin directory under the plugins
// root, sorted. A missing root is not an error.
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.cfg.PluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// build reads, compiles and describes a plugin without touching the registry.
func (l *Loader) build(ctx context.Context, id string, persisted *plugin.Descriptor) (*Loaded, error) {
	dir, err := l.pluginDir(id)
	if err != nil {
		return nil, err
	}

	manifest, _, err := plugin.LoadManifestFromDir(dir)
	if err != nil {
		return nil, &plugin.LoadError{Kind: plugin.ErrImportFailure, PluginID: id, Err: err}
	}
	base := plugin.Merge(manifest, persisted)

	rel, lang, err := entryFile(dir, base)
	if err != nil {
		return nil, &plugin.LoadError{Kind: plugin.ErrNoEntryPoint, PluginID: id, Err: err}
	}
	if !lang.Executable() {
		return nil, &plugin.LoadError{
			Kind:     plugin.ErrImportFailure,
			PluginID: id,
			Err:      fmt.Errorf("%w: %s plugins cannot run in-process", plugin.ErrUnsupportedFormat, lang),
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, &plugin.LoadError{Kind: plugin.ErrImportFailure, PluginID: id, Err: err}
	}
	prog, err := compile(lang, id+"/"+rel, src, l.sandbox.Policy())
	if err != nil {
		return nil, &plugin.LoadError{Kind: plugin.ErrImportFailure, PluginID: id, Err: err}
	}

	desc := plugin.Merge(plugin.FromConstants(prog.Info().Constants), base)
	desc.ID = id
	desc.Entry = rel
	desc.Language = lang

	return &Loaded{
		Descriptor: desc,
		Program:    prog,
		Dir:        dir,
		LoadedAt:   l.now(),
	}, nil
}

// entryFile resolves the entry source of a plugin directory: the
// descriptor's entry when set, else the conventional entry file of the
// declared language, else the first conventional entry file present.
func entryFile(dir string, d *plugin.Descriptor) (string, plugin.Language, error) {
	if d.Entry != "" {
		if !filepath.IsLocal(d.Entry) {
			return "", plugin.LanguageUnknown, fmt.Errorf("entry %s is outside the plugin directory", d.Entry)
		}
		rel := filepath.ToSlash(filepath.Clean(d.Entry))
		if !fileExists(filepath.Join(dir, filepath.FromSlash(rel))) {
			return "", plugin.LanguageUnknown, fmt.Errorf("entry %s does not exist", rel)
		}
		lang := plugin.LanguageForFile(rel)
		if lang == plugin.LanguageUnknown {
			lang = d.Language
		}
		return rel, lang, nil
	}

	candidates := []plugin.Language{d.Language, plugin.LanguageLua, plugin.LanguageJavaScript, plugin.LanguageShell}
	for _, lang := range candidates {
		name := lang.EntryFile()
		if name != "" && fileExists(filepath.Join(dir, name)) {
			return name, lang, nil
		}
	}
	return "", plugin.LanguageUnknown, fmt.Errorf("no entry file in %s", dir)
}

// compile dispatches to the runtime for lang.
func compile(lang plugin.Language, name string, src []byte, policy *security.Policy) (Program, error) {
	switch lang {
	case plugin.LanguageLua:
		prog, err := lua.Compile(name, src, policy)
		if err != nil {
			return nil, err
		}
		return prog, nil
	case plugin.LanguageJavaScript:
		prog, err := js.Compile(name, src, policy)
		if err != nil {
			return nil, err
		}
		return prog, nil
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnsupportedFormat, lang)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
