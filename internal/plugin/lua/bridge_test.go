package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func TestBridgeToGoValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tests := []struct {
		name     string
		input    glua.LValue
		expected any
	}{
		{"nil", glua.LNil, nil},
		{"true", glua.LTrue, true},
		{"integer", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(3.14), 3.14},
		{"string", glua.LString("hello"), "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bridge.ToGoValue(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)",
					tt.input, result, result, tt.expected, tt.expected)
			}
		})
	}
}

func TestBridgeToGoValueTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	t.Run("array", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetInt(1, glua.LString("a"))
		tbl.RawSetInt(2, glua.LString("b"))

		got := bridge.ToGoValue(tbl)
		if !reflect.DeepEqual(got, []any{"a", "b"}) {
			t.Errorf("ToGoValue() = %v", got)
		}
	})

	t.Run("sparse array is a map", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetInt(1, glua.LString("a"))
		tbl.RawSetInt(3, glua.LString("c"))

		got, ok := bridge.ToGoValue(tbl).(map[string]any)
		if !ok || got["1"] != "a" || got["3"] != "c" {
			t.Errorf("ToGoValue() = %v", got)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetString("self", tbl)

		got, ok := bridge.ToGoValue(tbl).(map[string]any)
		if !ok {
			t.Fatalf("ToGoValue() = %T", got)
		}
		if got["self"] != nil {
			t.Errorf("self = %v, want nil", got["self"])
		}
	})

	t.Run("shared reference", func(t *testing.T) {
		shared := L.NewTable()
		shared.RawSetString("k", glua.LString("v"))
		tbl := L.NewTable()
		tbl.RawSetString("a", shared)
		tbl.RawSetString("b", shared)

		got := bridge.ToGoValue(tbl).(map[string]any)
		if got["a"] == nil || got["b"] == nil {
			t.Errorf("shared table converted to nil: %v", got)
		}
	})
}

func TestBridgeRoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	in := map[string]any{
		"name":  "demo",
		"count": int64(3),
		"tags":  []any{"x", "y"},
		"ok":    true,
	}
	got := bridge.ToGoValue(bridge.ToLuaValue(in))
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestBridgeReflect(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	lv := bridge.ToLuaValue([]int{1, 2})
	if got := bridge.ToGoValue(lv); !reflect.DeepEqual(got, []any{int64(1), int64(2)}) {
		t.Errorf("[]int = %v", got)
	}

	var nilPtr *int
	if bridge.ToLuaValue(nilPtr) != glua.LNil {
		t.Error("nil pointer should convert to nil")
	}
}
