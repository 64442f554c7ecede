package luaengine

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestBridgeToGoValue(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := NewBridge(L)

	tests := []struct {
		name string
		lv   lua.LValue
		want any
	}{
		{"nil", lua.LNil, nil},
		{"bool", lua.LTrue, true},
		{"integer", lua.LNumber(42), int64(42)},
		{"float", lua.LNumber(1.5), 1.5},
		{"string", lua.LString("hi"), "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.ToGoValue(tt.lv); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)", tt.lv, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestBridgeToGoValueArrayTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := NewBridge(L)

	tbl := L.NewTable()
	tbl.Append(lua.LString("a"))
	tbl.Append(lua.LString("b"))

	got := b.ToGoValue(tbl)
	want := []any{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(array table) = %v, want %v", got, want)
	}
}

func TestBridgeToGoValueMapTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := NewBridge(L)

	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString("economy"))
	tbl.RawSetString("count", lua.LNumber(3))

	got, ok := b.ToGoValue(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue(map table) = %T, want map[string]any", got)
	}
	if got["name"] != "economy" {
		t.Errorf("name = %v, want economy", got["name"])
	}
	if got["count"] != int64(3) {
		t.Errorf("count = %v, want 3", got["count"])
	}
}

func TestBridgeToGoValueCyclicTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := NewBridge(L)

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	// Must terminate rather than recurse forever.
	if got := b.ToGoValue(tbl); got == nil {
		t.Error("ToGoValue(cyclic table) = nil, want a map")
	}
}

func TestBridgeToLuaValueRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := NewBridge(L)

	in := map[string]any{
		"id":    int64(7),
		"ratio": 0.5,
		"tags":  []any{"x", "y"},
		"ok":    true,
	}

	out := b.ToGoValue(b.ToLuaValue(in))
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %#v, want %#v", out, in)
	}
}
