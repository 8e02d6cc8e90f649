package security

import (
	"strings"
	"testing"
)

func TestImpliesCapability(t *testing.T) {
	tests := []struct {
		granted, required Capability
		want              bool
	}{
		{CapabilityFiles, CapabilityFileRead, true},
		{CapabilityFiles, CapabilityFileWrite, true},
		{CapabilityFileRead, CapabilityFileRead, true},
		{CapabilityFileRead, CapabilityFileWrite, false},
		{CapabilityFileRead, CapabilityFiles, false},
		{CapabilityOutput, CapabilityFileRead, false},
	}

	for _, tt := range tests {
		if got := ImpliesCapability(tt.granted, tt.required); got != tt.want {
			t.Errorf("ImpliesCapability(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func TestCapabilityRegistry(t *testing.T) {
	for _, cap := range []Capability{CapabilityFiles, CapabilityFileRead, CapabilityFileWrite, CapabilityOutput} {
		info, ok := GetCapabilityInfo(cap)
		if !ok {
			t.Errorf("GetCapabilityInfo(%q) not found", cap)
			continue
		}
		if info.Parent != "" && !IsChildOf(cap, info.Parent) {
			t.Errorf("%q lists parent %q but is not its child", cap, info.Parent)
		}
	}
	if IsValidCapability("network") {
		t.Error("network is not a sandbox capability")
	}
}

func TestRiskLevelString(t *testing.T) {
	if RiskMedium.String() != "medium" || RiskLevel(42).String() != "unknown" {
		t.Errorf("String() = %q, %q", RiskMedium.String(), RiskLevel(42).String())
	}
}

func TestCapabilityError(t *testing.T) {
	err := NewCapabilityError(CapabilityFileWrite, "write file", "path is blocked")
	if !strings.Contains(err.Error(), "write file") || !strings.Contains(err.Error(), "path is blocked") {
		t.Errorf("Error() = %q", err.Error())
	}

	err = NewCapabilityError(CapabilityOutput, "", "not granted")
	if err.Error() != `capability "output": not granted` {
		t.Errorf("Error() = %q", err.Error())
	}
}
