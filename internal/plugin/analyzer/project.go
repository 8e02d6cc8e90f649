package analyzer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/lua"
)

// PackageJSON is the npm project descriptor file name.
const PackageJSON = "package.json"

// parsePackageJSON derives a descriptor layer from an npm package.json.
// Dependencies become name@range specifiers in document order.
func parsePackageJSON(data []byte) (*plugin.Descriptor, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", plugin.ErrMalformedManifest, PackageJSON)
	}
	doc := gjson.ParseBytes(data)

	d := &plugin.Descriptor{
		Name:        doc.Get("name").String(),
		Version:     doc.Get("version").String(),
		Description: doc.Get("description").String(),
		Author:      packageAuthor(doc.Get("author")),
		Language:    plugin.LanguageJavaScript,
	}
	if main := doc.Get("main").String(); main != "" {
		d.Entry = path.Clean(strings.TrimPrefix(main, "./"))
	}

	doc.Get("dependencies").ForEach(func(name, rng gjson.Result) bool {
		d.Requirements = append(d.Requirements, name.String()+"@"+rng.String())
		return true
	})
	return d, nil
}

// packageAuthor accepts both "Ada <ada@example.com>" and {"name": "Ada"}.
func packageAuthor(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("name").String()
	}
	return personName(v.String())
}

// personName strips the email and URL parts of a person field.
func personName(s string) string {
	if i := strings.IndexAny(s, "<("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// findRockspec returns the first *.rockspec in dir by name, or "".
func findRockspec(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.rockspec"))
	if err != nil || len(matches) == 0 {
		return "", err
	}
	sort.Strings(matches)
	return matches[0], nil
}

// parseRockspec derives a descriptor layer from a LuaRocks rockspec.
func parseRockspec(name string, data []byte) (*plugin.Descriptor, error) {
	rs, err := lua.ParseRockspec(name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plugin.ErrMalformedManifest, err)
	}

	d := &plugin.Descriptor{
		Name:         rs.Package,
		Version:      rockVersion(rs.Version),
		Description:  rs.Summary,
		Author:       personName(rs.Maintainer),
		Language:     plugin.LanguageLua,
		Requirements: []string{},
	}
	for _, dep := range rs.Dependencies {
		spec := strings.Join(strings.Fields(dep), "")
		// The interpreter itself is not a rock
		if spec == "lua" || strings.HasPrefix(spec, "lua>") || strings.HasPrefix(spec, "lua<") ||
			strings.HasPrefix(spec, "lua=") || strings.HasPrefix(spec, "lua~") {
			continue
		}
		d.Requirements = append(d.Requirements, spec)
	}
	return d, nil
}

// rockVersion drops the rockspec revision: "1.2-1" -> "1.2".
func rockVersion(v string) string {
	if i := strings.LastIndexByte(v, '-'); i > 0 {
		return v[:i]
	}
	return v
}

// fileExists reports whether path names a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
