package plugin

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDescriptorDefaults(t *testing.T) {
	d := &Descriptor{}
	d.ApplyDefaults()

	if d.Name != "Unknown Plugin" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Version != "1.0.0" {
		t.Errorf("Version = %q", d.Version)
	}
	if d.Author != "Unknown" {
		t.Errorf("Author = %q", d.Author)
	}
	if d.Category != "General" {
		t.Errorf("Category = %q", d.Category)
	}
	if d.Requirements == nil || len(d.Requirements) != 0 {
		t.Errorf("Requirements = %v, want empty", d.Requirements)
	}
	if d.APIKeysRequired == nil || len(d.APIKeysRequired) != 0 {
		t.Errorf("APIKeysRequired = %v, want empty", d.APIKeysRequired)
	}
	if d.ID != "unknown-plugin" {
		t.Errorf("ID = %q", d.ID)
	}
}

func TestMergePrecedence(t *testing.T) {
	entry := &Descriptor{Name: "From Entry", Version: "3.0.0"}
	manifest := &Descriptor{
		Name:         "From Manifest",
		Version:      "2.0.0",
		Author:       "Manifest Author",
		Requirements: []string{"lpeg>=1.0"},
		Language:     LanguageLua,
	}

	d := Merge(entry, manifest)

	if d.Name != "From Entry" {
		t.Errorf("Name = %q, entry should win", d.Name)
	}
	if d.Version != "3.0.0" {
		t.Errorf("Version = %q, entry should win", d.Version)
	}
	if d.Author != "Manifest Author" {
		t.Errorf("Author = %q, manifest should fill", d.Author)
	}
	if d.Category != DefaultCategory {
		t.Errorf("Category = %q, default should fill", d.Category)
	}
	if d.Language != LanguageLua {
		t.Errorf("Language = %q", d.Language)
	}

	// Merge must not alias layer slices.
	d.Requirements[0] = "changed"
	if manifest.Requirements[0] != "lpeg>=1.0" {
		t.Error("Merge aliased manifest requirements")
	}
}

func TestMergeSkipsNil(t *testing.T) {
	d := Merge(nil, &Descriptor{Name: "Only"}, nil)
	if d.Name != "Only" {
		t.Errorf("Name = %q", d.Name)
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{"valid", Descriptor{ID: "image-tools"}, false},
		{"empty id", Descriptor{}, true},
		{"bad id", Descriptor{ID: "../etc"}, true},
		{"absolute entry", Descriptor{ID: "a", Entry: "/etc/passwd"}, true},
		{"escaping entry", Descriptor{ID: "a", Entry: "../x.lua"}, true},
		{"relative entry", Descriptor{ID: "a", Entry: "src/entry.lua"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptorClone(t *testing.T) {
	d := &Descriptor{
		Name:            "x",
		Requirements:    []string{"a"},
		APIKeysRequired: []string{"token"},
		ConfigSchema:    map[string]any{"k": "v"},
	}
	c := d.Clone()
	c.Requirements[0] = "b"
	c.APIKeysRequired[0] = "password"
	c.ConfigSchema["k"] = "w"

	if d.Requirements[0] != "a" || d.APIKeysRequired[0] != "token" || d.ConfigSchema["k"] != "v" {
		t.Error("Clone() shares state with the original")
	}
}

func TestLanguageForFile(t *testing.T) {
	tests := map[string]Language{
		"entry.lua":  LanguageLua,
		"index.JS":   LanguageJavaScript,
		"run.sh":     LanguageShell,
		"plugin.py":  LanguageUnknown,
		"no-ext":     LanguageUnknown,
		"lib/x.cjs":  LanguageJavaScript,
	}
	for name, want := range tests {
		if got := LanguageForFile(name); got != want {
			t.Errorf("LanguageForFile(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Remove Background": "remove-background",
		"  Demo!! 2 ":       "demo-2",
		"already-slugged":   "already-slugged",
		"":                  "",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugNonASCII(t *testing.T) {
	a, b := Slug("Привет"), Slug("Мир")
	if !strings.HasPrefix(a, "plugin-") || len(a) != len("plugin-")+8 {
		t.Errorf("Slug(Привет) = %q", a)
	}
	if a == b {
		t.Errorf("different names share id %q", a)
	}
	if Slug(" Привет ") != a {
		t.Error("Slug() is not stable across surrounding spaces")
	}

	d := &Descriptor{Name: "Привет", Entry: "entry.lua", Language: LanguageLua}
	d.ApplyDefaults()
	if d.ID != a {
		t.Errorf("ID = %q, want %q", d.ID, a)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestExecutionContextMap(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := ExecutionContext{
		UserID:     "u1",
		PluginID:   "p1",
		Input:      map[string]any{"image": "abc"},
		Files:      []Attachment{{Name: "a.txt", Data: []byte("hi")}},
		Credential: "secret",
		Timestamp:  ts,
	}
	m := c.Map()

	if m["user_id"] != "u1" || m["plugin_id"] != "p1" || m["api_key"] != "secret" {
		t.Errorf("Map() = %v", m)
	}
	if m["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("timestamp = %v", m["timestamp"])
	}
	if files := m["files"].([]any); len(files) != 1 {
		t.Errorf("files = %v", files)
	}

	if _, ok := (ExecutionContext{}).Map()["api_key"]; ok {
		t.Error("api_key must be absent without a credential")
	}
}

func TestErrorKinds(t *testing.T) {
	var err error = &LoadError{Kind: ErrNoEntryPoint, PluginID: "p"}
	if !errors.Is(err, ErrNoEntryPoint) {
		t.Error("LoadError should match its kind")
	}

	err = &ValidationError{Kind: ErrForbiddenImport, Name: "os"}
	if err.Error() != "Forbidden import: os" {
		t.Errorf("Error() = %q", err.Error())
	}

	err = &TimeoutError{PluginID: "p", Deadline: time.Second}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}

	cause := errors.New("boom")
	err = &ExecutionError{PluginID: "p", Message: "boom", Err: cause}
	if !errors.Is(err, ErrExecution) || !errors.Is(err, cause) {
		t.Error("ExecutionError should match ErrExecution and its cause")
	}
}
