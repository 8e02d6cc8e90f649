package security

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestPermissionCheckerGrant(t *testing.T) {
	pc := NewPermissionChecker("test", t.TempDir())

	pc.Grant(CapabilityFileRead)
	if !pc.HasCapability(CapabilityFileRead) {
		t.Error("HasCapability(FileRead) = false after Grant")
	}
	if pc.HasCapability(CapabilityFileWrite) {
		t.Error("HasCapability(FileWrite) = true without grant")
	}

	if err := pc.CheckCapability(CapabilityOutput); err == nil {
		t.Error("CheckCapability(output) = nil without grant")
	}
}

func TestPermissionCheckerHierarchy(t *testing.T) {
	pc := NewPermissionChecker("test", t.TempDir())
	pc.GrantAll(DefaultCapabilities())

	for _, cap := range []Capability{CapabilityFileRead, CapabilityFileWrite, CapabilityOutput} {
		if err := pc.CheckCapability(cap); err != nil {
			t.Errorf("CheckCapability(%q) error = %v", cap, err)
		}
	}
}

func TestResolveScoped(t *testing.T) {
	ws := t.TempDir()
	pc := NewPermissionChecker("test", ws)
	pc.GrantAll(DefaultCapabilities())

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", "out.txt", filepath.Join(ws, "out.txt"), false},
		{"nested", "a/b/c.txt", filepath.Join(ws, "a", "b", "c.txt"), false},
		{"dot", "./x", filepath.Join(ws, "x"), false},
		{"absolute inside", filepath.Join(ws, "y"), filepath.Join(ws, "y"), false},
		{"parent", "../escape", "", true},
		{"hidden parent", "a/../../escape", "", true},
		{"backslash parent", `a\..\..\escape`, "", true},
		{"absolute outside", "/tmp/elsewhere-" + filepath.Base(ws), "", true},
		{"etc", "/etc/passwd", "", true},
		{"proc", "/proc/self/environ", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pc.ResolveWrite(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveWrite(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveWrite(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveRequiresCapability(t *testing.T) {
	pc := NewPermissionChecker("test", t.TempDir())

	_, err := pc.ResolveRead("a.txt")
	var capErr *CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("ResolveRead() error = %v, want *CapabilityError", err)
	}
	if capErr.Capability != CapabilityFileRead {
		t.Errorf("Capability = %q", capErr.Capability)
	}

	pc.Grant(CapabilityFileRead)
	if _, err := pc.ResolveWrite("a.txt"); err == nil {
		t.Error("ResolveWrite() should fail with read-only grant")
	}
}

func TestBlockedRootContainingWorkspace(t *testing.T) {
	ws := t.TempDir()
	pc := NewPermissionChecker("test", ws)
	pc.GrantAll(DefaultCapabilities())
	pc.BlockPath(filepath.Dir(ws))

	if _, err := pc.ResolveRead("inside.txt"); err != nil {
		t.Errorf("ResolveRead() error = %v, a block above the workspace must not apply", err)
	}
}

func TestResolveNeverEscapes(t *testing.T) {
	ws := t.TempDir()
	pc := NewPermissionChecker("test", ws)
	pc.GrantAll(DefaultCapabilities())

	segment := rapid.SampledFrom([]string{"a", "b", ".", "..", "", "etc", "x.txt", "/"})
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(segment, 1, 6).Draw(t, "parts")
		path := strings.Join(parts, "/")

		got, err := pc.ResolveRead(path)
		if err != nil {
			return
		}
		if !isWithinPath(got, ws) {
			t.Fatalf("ResolveRead(%q) = %q escapes %q", path, got, ws)
		}
	})
}

func TestIsWithinPath(t *testing.T) {
	tests := []struct {
		target, base string
		want         bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a/b", "/tmp/a", true},
		{"/tmp/ab", "/tmp/a", false},
		{"/tmp", "/tmp/a", false},
		{"/tmp/a/..b", "/tmp/a", true},
	}
	for _, tt := range tests {
		if got := isWithinPath(tt.target, tt.base); got != tt.want {
			t.Errorf("isWithinPath(%q, %q) = %v, want %v", tt.target, tt.base, got, tt.want)
		}
	}
}
