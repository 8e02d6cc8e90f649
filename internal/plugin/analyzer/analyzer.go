package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/js"
	"github.com/dshills/plugforge/internal/plugin/lua"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Default size limits.
const (
	DefaultMaxArtifactSize int64 = 64 << 20
	DefaultMaxExtractSize  int64 = 256 << 20
)

// sourceLanguages is the auto-detect order for archives without a manifest.
var sourceLanguages = []plugin.Language{
	plugin.LanguageLua,
	plugin.LanguageJavaScript,
	plugin.LanguageShell,
}

// Analyzer extracts descriptors from plugin artifacts. It is safe for
// concurrent use; every call works in its own temporary directory.
type Analyzer struct {
	logger      hclog.Logger
	policy      *security.Policy
	tempDir     string
	maxArtifact int64
	maxExtract  int64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the analyzer's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithPolicy sets the policy whose sanctioned modules are not requirements.
func WithPolicy(policy *security.Policy) Option {
	return func(a *Analyzer) {
		a.policy = policy
	}
}

// WithTempDir sets the parent of extraction directories. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(a *Analyzer) {
		a.tempDir = dir
	}
}

// WithMaxArtifactSize bounds the size of an uploaded artifact.
func WithMaxArtifactSize(n int64) Option {
	return func(a *Analyzer) {
		a.maxArtifact = n
	}
}

// WithMaxExtractSize bounds the total bytes extracted from one archive.
func WithMaxExtractSize(n int64) Option {
	return func(a *Analyzer) {
		a.maxExtract = n
	}
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:      hclog.NewNullLogger(),
		policy:      security.DefaultPolicy(),
		maxArtifact: DefaultMaxArtifactSize,
		maxExtract:  DefaultMaxExtractSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeFile analyzes the artifact at path.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*plugin.Descriptor, error) {
	data, err := a.readArtifact(path)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeBytes(ctx, filepath.Base(path), data)
}

// AnalyzeBytes analyzes artifact content uploaded under filename. The
// file name's extension selects the format.
func (a *Analyzer) AnalyzeBytes(ctx context.Context, filename string, data []byte) (*plugin.Descriptor, error) {
	kind := KindOf(filename)
	switch {
	case kind == KindUnknown:
		return nil, unsupported(filename)
	case int64(len(data)) > a.maxArtifact:
		return nil, &plugin.AnalysisError{Kind: plugin.ErrUnsupportedFormat, Path: filename, Err: ErrArtifactTooLarge}
	case kind == KindSource:
		return a.AnalyzeSource(filename, data)
	}

	var desc *plugin.Descriptor
	err := a.withExtracted(ctx, filename, kind, data, func(root string) error {
		d, err := a.resolve(root, filename)
		desc = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// AnalyzeSource analyzes a single source file. Entry is set to the
// conventional entry file name for the language.
func (a *Analyzer) AnalyzeSource(filename string, src []byte) (*plugin.Descriptor, error) {
	d, err := a.sourceLayer(filename, src)
	if err != nil {
		return nil, err
	}
	d.Entry = d.Language.EntryFile()
	d.ApplyDefaults()

	a.logger.Debug("analyzed source", "file", filename, "id", d.ID, "language", d.Language,
		"requirements", len(d.Requirements))
	return d, nil
}

// sourceLayer reads what the source itself declares, without defaults.
func (a *Analyzer) sourceLayer(filename string, src []byte) (*plugin.Descriptor, error) {
	lang := plugin.LanguageForFile(filename)

	var info *plugin.SourceInfo
	switch lang {
	case plugin.LanguageLua:
		var err error
		info, err = lua.Inspect(filename, src)
		if err != nil {
			return nil, &plugin.AnalysisError{Kind: plugin.ErrNoSourceDetected, Path: filename, Err: err}
		}
	case plugin.LanguageJavaScript:
		var err error
		info, err = js.Inspect(filename, src)
		if err != nil {
			a.logger.Debug("javascript did not parse, scanning instead", "file", filename, "error", err)
			info = scanJavaScript(src)
		}
	case plugin.LanguageShell:
		info = inspectShell(src)
	default:
		return nil, unsupported(filename)
	}

	d := plugin.FromConstants(info.Constants)
	d.Language = lang
	d.Requirements = requirements(lang, info.Imports, a.policy)
	d.APIKeysRequired = Credentials(src)
	return d, nil
}

// scanJavaScript builds what the parser would have from pattern matches.
func scanJavaScript(src []byte) *plugin.SourceInfo {
	info := plugin.NewSourceInfo()
	for k, v := range js.Markers(src) {
		info.Constants[k] = v
	}
	for _, imp := range js.ScanImports(src) {
		info.AddImport(imp, 0)
	}
	return info
}

func (a *Analyzer) readArtifact(path string) ([]byte, error) {
	if KindOf(path) == KindUnknown {
		return nil, unsupported(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if info.Size() > a.maxArtifact {
		return nil, &plugin.AnalysisError{Kind: plugin.ErrUnsupportedFormat, Path: path, Err: ErrArtifactTooLarge}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// withExtracted extracts an archive into a fresh directory, calls fn with
// its content root and removes the directory on every path.
func (a *Analyzer) withExtracted(ctx context.Context, filename string, kind Kind, data []byte, fn func(root string) error) error {
	dir, err := os.MkdirTemp(a.tempDir, "analyze_")
	if err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn("failed to remove extraction dir", "dir", dir, "error", err)
		}
	}()

	if err := extract(ctx, kind, data, dir, a.maxExtract); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &plugin.AnalysisError{Kind: plugin.ErrUnsupportedFormat, Path: filename, Err: err}
	}

	root, err := contentRoot(dir)
	if err != nil {
		return fmt.Errorf("read extraction dir: %w", err)
	}
	a.logger.Debug("extracted archive", "artifact", filename, "kind", kind, "root", root)
	return fn(root)
}

// resolve builds the descriptor for an extracted archive: manifest first,
// then a project descriptor, then the first source file found.
func (a *Analyzer) resolve(root, artifact string) (*plugin.Descriptor, error) {
	manifest, path, err := plugin.LoadManifestFromDir(root)
	if err != nil {
		return nil, &plugin.AnalysisError{Kind: plugin.ErrMalformedManifest, Path: artifact, Err: err}
	}
	if manifest != nil {
		a.logger.Debug("descriptor from manifest", "artifact", artifact, "manifest", filepath.Base(path))
		return a.fromManifest(root, manifest)
	}

	d, err := a.fromProject(root)
	if err != nil {
		return nil, &plugin.AnalysisError{Kind: plugin.ErrMalformedManifest, Path: artifact, Err: err}
	}
	if d != nil {
		return d, nil
	}

	entry, err := findSource(root, sourceLanguages...)
	if err != nil {
		return nil, fmt.Errorf("search sources: %w", err)
	}
	if entry == "" {
		return nil, &plugin.AnalysisError{Kind: plugin.ErrNoSourceDetected, Path: artifact}
	}
	a.logger.Debug("descriptor from source", "artifact", artifact, "entry", entry)
	d, err = a.analyzeEntry(root, entry)
	if err != nil {
		var aerr *plugin.AnalysisError
		if errors.As(err, &aerr) {
			aerr.Path = artifact
		}
		return nil, err
	}
	d.ApplyDefaults()
	return d, nil
}

// fromManifest returns the manifest's fields as declared. Only an absent
// entry or language is filled in from the sources present.
func (a *Analyzer) fromManifest(root string, manifest *plugin.Descriptor) (*plugin.Descriptor, error) {
	d := manifest.Clone()
	known := d.Language != "" && d.Language != plugin.LanguageUnknown

	if d.Entry == "" {
		var (
			entry string
			err   error
		)
		if known {
			entry, err = locateEntry(root, d.Language)
		} else {
			entry, err = findSource(root, sourceLanguages...)
		}
		if err != nil {
			return nil, fmt.Errorf("search sources: %w", err)
		}
		d.Entry = entry
	}
	if !known && d.Entry != "" {
		d.Language = plugin.LanguageForFile(d.Entry)
	}

	d.ApplyDefaults()
	return d, nil
}

// fromProject reads package.json or a rockspec. It returns nil, nil when
// neither exists.
func (a *Analyzer) fromProject(root string) (*plugin.Descriptor, error) {
	var project *plugin.Descriptor

	if data, err := os.ReadFile(filepath.Join(root, PackageJSON)); err == nil {
		if project, err = parsePackageJSON(data); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", PackageJSON, err)
	}

	if project == nil {
		spec, err := findRockspec(root)
		if err != nil {
			return nil, fmt.Errorf("search rockspec: %w", err)
		}
		if spec == "" {
			return nil, nil
		}
		data, err := os.ReadFile(spec)
		if err != nil {
			return nil, fmt.Errorf("read rockspec: %w", err)
		}
		if project, err = parseRockspec(filepath.Base(spec), data); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("descriptor from project", "name", project.Name, "language", project.Language)

	entry := project.Entry
	if entry == "" || !fileExists(filepath.Join(root, filepath.FromSlash(entry))) ||
		plugin.LanguageForFile(entry) != project.Language {
		var err error
		if entry, err = locateEntry(root, project.Language); err != nil {
			return nil, fmt.Errorf("search sources: %w", err)
		}
	}
	project.Entry = entry
	if entry == "" {
		project.ApplyDefaults()
		return project, nil
	}

	source, err := a.analyzeEntry(root, entry)
	if err != nil {
		return nil, err
	}
	// Entry-declared metadata fills what the project file leaves out
	return plugin.Merge(project, source), nil
}

// analyzeEntry returns the source layer of a file inside an extracted
// archive. Defaults are left to the caller.
func (a *Analyzer) analyzeEntry(root, rel string) (*plugin.Descriptor, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	d, err := a.sourceLayer(filepath.Base(rel), src)
	if err != nil {
		return nil, err
	}
	d.Entry = rel
	return d, nil
}

// locateEntry prefers the conventional entry file, then common package
// entry names, then the first source file of the language.
func locateEntry(root string, lang plugin.Language) (string, error) {
	candidates := []string{lang.EntryFile()}
	switch lang {
	case plugin.LanguageLua:
		candidates = append(candidates, "init.lua", "main.lua")
	case plugin.LanguageJavaScript:
		candidates = append(candidates, "index.js", "main.js")
	}
	for _, c := range candidates {
		if c != "" && fileExists(filepath.Join(root, c)) {
			return c, nil
		}
	}
	return findSource(root, lang)
}

// findSource walks root in lexical order and returns the slash-separated
// relative path of the first file in the earliest listed language.
func findSource(root string, langs ...plugin.Language) (string, error) {
	first := make(map[plugin.Language]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && hiddenEntry(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		lang := plugin.LanguageForFile(path)
		if _, ok := first[lang]; !ok && lang != plugin.LanguageUnknown {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			first[lang] = filepath.ToSlash(rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, lang := range langs {
		if rel, ok := first[lang]; ok {
			return rel, nil
		}
	}
	return "", nil
}

func unsupported(name string) error {
	return &plugin.AnalysisError{
		Kind: plugin.ErrUnsupportedFormat,
		Path: name,
		Err:  fmt.Errorf("extension %q", filepath.Ext(name)),
	}
}
