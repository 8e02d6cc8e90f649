package analyzer

import (
	"regexp"
	"strings"

	"github.com/dshills/plugforge/internal/plugin"
)

var (
	// shellMarker matches "# @name Foo" style comments.
	shellMarker = regexp.MustCompile(`(?m)^[ \t]*#[ \t]*@(name|description|version|author|category)[ \t]+(.+?)[ \t]*$`)

	// shellAssignment matches PLUGIN_NAME="Foo", optionally exported.
	shellAssignment = regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+|readonly[ \t]+)?(PLUGIN_[A-Z]+)=(?:"([^"]*)"|'([^']*)'|([^\s#;]*))`)

	// shellSource matches "source file" and ". file".
	shellSource = regexp.MustCompile(`(?m)^[ \t]*(?:source|\.)[ \t]+["']?([^\s"';]+)`)
)

// inspectShell reads metadata from a shell script without running it.
// Assignments win over comment markers. Sourced files are recorded as
// imports.
func inspectShell(src []byte) *plugin.SourceInfo {
	info := plugin.NewSourceInfo()

	for _, m := range shellAssignment.FindAllSubmatch(src, -1) {
		name := string(m[1])
		if _, ok := info.Constants[name]; ok {
			continue
		}
		for _, v := range m[2:] {
			if len(v) > 0 {
				info.Constants[name] = string(v)
				break
			}
		}
	}

	for _, m := range shellMarker.FindAllSubmatch(src, -1) {
		name := "PLUGIN_" + strings.ToUpper(string(m[1]))
		if _, ok := info.Constants[name]; !ok {
			info.Constants[name] = string(m[2])
		}
	}

	for _, idx := range shellSource.FindAllSubmatchIndex(src, -1) {
		line := 1 + strings.Count(string(src[:idx[0]]), "\n")
		info.AddImport(string(src[idx[2]:idx[3]]), line)
	}
	return info
}
