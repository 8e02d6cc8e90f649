package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Language identifies the runtime a plugin's entry code targets.
type Language string

// Supported languages.
const (
	LanguageLua        Language = "lua"
	LanguageJavaScript Language = "javascript"
	LanguageShell      Language = "shell"
	LanguageUnknown    Language = "unknown"
)

// languageByExt maps source file extensions to languages.
var languageByExt = map[string]Language{
	".lua": LanguageLua,
	".js":  LanguageJavaScript,
	".cjs": LanguageJavaScript,
	".sh":  LanguageShell,
}

// LanguageForFile returns the language implied by a file name's extension.
func LanguageForFile(name string) Language {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}
	return LanguageUnknown
}

// ParseLanguage normalizes a manifest language value. Common aliases are accepted.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lua":
		return LanguageLua
	case "javascript", "js", "node":
		return LanguageJavaScript
	case "shell", "sh", "bash":
		return LanguageShell
	default:
		return LanguageUnknown
	}
}

// Executable returns true if the language has an in-process runtime.
func (l Language) Executable() bool {
	return l == LanguageLua || l == LanguageJavaScript
}

// EntryFile returns the conventional entry file name for the language.
func (l Language) EntryFile() string {
	switch l {
	case LanguageLua:
		return "entry.lua"
	case LanguageJavaScript:
		return "entry.js"
	case LanguageShell:
		return "entry.sh"
	default:
		return ""
	}
}

// Descriptor defaults.
const (
	DefaultName     = "Unknown Plugin"
	DefaultVersion  = "1.0.0"
	DefaultAuthor   = "Unknown"
	DefaultCategory = "General"
)

// Descriptor describes a plugin: identity, requirements and inferred credentials.
type Descriptor struct {
	ID              string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description" yaml:"description"`
	Version         string         `json:"version" yaml:"version"`
	Author          string         `json:"author" yaml:"author"`
	Category        string         `json:"category" yaml:"category"`
	Requirements    []string       `json:"requirements" yaml:"requirements"`
	APIKeysRequired []string       `json:"api_keys_required" yaml:"api_keys_required"`
	ConfigSchema    map[string]any `json:"config_schema" yaml:"config_schema"`
	Language        Language       `json:"language" yaml:"language"`
	Entry           string         `json:"entry,omitempty" yaml:"entry,omitempty"` // Entry file relative to the plugin directory
}

// idPattern validates plugin ids (they name directories).
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// slugPattern matches runs of characters not allowed in an id.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a display name into an id. A name with no ASCII letters
// or digits gets "plugin-" and a short hash of the name instead.
func Slug(name string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" && strings.TrimSpace(name) != "" {
		sum := sha256.Sum256([]byte(strings.TrimSpace(name)))
		s = "plugin-" + hex.EncodeToString(sum[:4])
	}
	return s
}

// ApplyDefaults fills absent fields with fixed defaults.
func (d *Descriptor) ApplyDefaults() {
	if d.Name == "" {
		d.Name = DefaultName
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if d.Author == "" {
		d.Author = DefaultAuthor
	}
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	if d.Requirements == nil {
		d.Requirements = []string{}
	}
	if d.APIKeysRequired == nil {
		d.APIKeysRequired = []string{}
	}
	if d.ConfigSchema == nil {
		d.ConfigSchema = map[string]any{}
	}
	if d.Language == "" {
		d.Language = LanguageUnknown
	}
	if d.ID == "" {
		d.ID = Slug(d.Name)
	}
}

// Validate checks the fields that other components rely on.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor: id is required")
	}
	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("descriptor: invalid id %q", d.ID)
	}
	if d.Entry != "" && (filepath.IsAbs(d.Entry) || strings.Contains(d.Entry, "..")) {
		return fmt.Errorf("descriptor: entry %q must be relative to the plugin directory", d.Entry)
	}
	return nil
}

// Clone creates a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	clone := *d

	if d.Requirements != nil {
		clone.Requirements = make([]string, len(d.Requirements))
		copy(clone.Requirements, d.Requirements)
	}

	if d.APIKeysRequired != nil {
		clone.APIKeysRequired = make([]string, len(d.APIKeysRequired))
		copy(clone.APIKeysRequired, d.APIKeysRequired)
	}

	if d.ConfigSchema != nil {
		clone.ConfigSchema = make(map[string]any, len(d.ConfigSchema))
		for k, v := range d.ConfigSchema {
			clone.ConfigSchema[k] = v
		}
	}

	return &clone
}

// String returns a short human-readable form.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s v%s (%s)", d.Name, d.Version, d.ID)
}

// Merge layers descriptors by precedence: earlier layers win per field.
// Nil layers are skipped. Defaults are applied to the result.
func Merge(layers ...*Descriptor) *Descriptor {
	out := &Descriptor{}
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if l == nil {
			continue
		}
		overlay(out, l)
	}
	out.ApplyDefaults()
	return out
}

// overlay copies the non-empty fields of src onto dst.
func overlay(dst, src *Descriptor) {
	setString(&dst.ID, src.ID)
	setString(&dst.Name, src.Name)
	setString(&dst.Description, src.Description)
	setString(&dst.Version, src.Version)
	setString(&dst.Author, src.Author)
	setString(&dst.Category, src.Category)
	setString(&dst.Entry, src.Entry)
	if src.Language != "" && src.Language != LanguageUnknown {
		dst.Language = src.Language
	}
	if len(src.Requirements) > 0 {
		dst.Requirements = append([]string(nil), src.Requirements...)
	}
	if len(src.APIKeysRequired) > 0 {
		dst.APIKeysRequired = append([]string(nil), src.APIKeysRequired...)
	}
	if len(src.ConfigSchema) > 0 {
		dst.ConfigSchema = make(map[string]any, len(src.ConfigSchema))
		for k, v := range src.ConfigSchema {
			dst.ConfigSchema[k] = v
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Metadata constant names read from entry code.
const (
	ConstName        = "PLUGIN_NAME"
	ConstDescription = "PLUGIN_DESCRIPTION"
	ConstVersion     = "PLUGIN_VERSION"
	ConstAuthor      = "PLUGIN_AUTHOR"
	ConstCategory    = "PLUGIN_CATEGORY"
)

// FromConstants builds a descriptor layer from metadata constants.
func FromConstants(consts map[string]string) *Descriptor {
	return &Descriptor{
		Name:        consts[ConstName],
		Description: consts[ConstDescription],
		Version:     consts[ConstVersion],
		Author:      consts[ConstAuthor],
		Category:    consts[ConstCategory],
	}
}
