package luaengine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"modhost/internal/identity"
)

func TestNewState(t *testing.T) {
	state := NewState()
	defer state.Close()

	if state.IsClosed() {
		t.Error("NewState() returned closed state")
	}
	if state.LuaState() == nil {
		t.Error("NewState() LuaState() is nil")
	}
}

func TestStateDoString(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(`x = 1 + 1`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	v := state.GetGlobal("x")
	num, ok := v.(lua.LNumber)
	if !ok {
		t.Fatalf("x is not a number, got %T", v)
	}
	if float64(num) != 2 {
		t.Errorf("x = %v, want 2", num)
	}
}

func TestStateDoStringSyntaxError(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(`this is not lua !!!`); err == nil {
		t.Error("DoString() with invalid code should return error")
	}
}

func TestStateDoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.lua")
	if err := os.WriteFile(path, []byte(`loaded_marker = "yes"`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	state := NewState()
	defer state.Close()

	if err := state.DoFile(path); err != nil {
		t.Fatalf("DoFile() error = %v", err)
	}
	if got := state.GetGlobal("loaded_marker"); got.String() != "yes" {
		t.Errorf("loaded_marker = %q, want %q", got.String(), "yes")
	}
}

func TestStateCall(t *testing.T) {
	state := NewState()
	defer state.Close()

	err := state.DoString(`
		function add(a, b)
			return a + b
		end
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	results, err := state.Call("add", lua.LNumber(2), lua.LNumber(3))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Call() returned %d results, want 1", len(results))
	}
	if num := results[0].(lua.LNumber); float64(num) != 5 {
		t.Errorf("add(2, 3) = %v, want 5", num)
	}
}

func TestStateCallMissingFunction(t *testing.T) {
	state := NewState()
	defer state.Close()

	_, err := state.Call("nope")
	if !errors.Is(err, ErrFunctionNotFound) {
		t.Errorf("Call(nope) error = %v, want ErrFunctionNotFound", err)
	}
}

func TestStateCallNotAFunction(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(`thing = 42`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	_, err := state.Call("thing")
	if !errors.Is(err, ErrNotAFunction) {
		t.Errorf("Call(thing) error = %v, want ErrNotAFunction", err)
	}
}

func TestStateCallRuntimeError(t *testing.T) {
	state := NewState()
	defer state.Close()

	err := state.DoString(`
		function boom()
			error("deliberate failure")
		end
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	if _, err := state.Call("boom"); err == nil {
		t.Error("Call(boom) should return error")
	}
}

func TestStateCallMultipleResults(t *testing.T) {
	state := NewState()
	defer state.Close()

	err := state.DoString(`
		function pair()
			return "a", "b"
		end
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	results, err := state.Call("pair")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Call() returned %d results, want 2", len(results))
	}
	if results[0].String() != "a" || results[1].String() != "b" {
		t.Errorf("pair() = %v, %v, want a, b", results[0], results[1])
	}
}

func TestStateHasFunction(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(`function present() end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	if !state.HasFunction("present") {
		t.Error("HasFunction(present) = false, want true")
	}
	if state.HasFunction("absent") {
		t.Error("HasFunction(absent) = true, want false")
	}
}

func TestStateRegisterModule(t *testing.T) {
	state := NewState()
	state.RegisterModule("host", map[string]lua.LGFunction{
		"greet": func(L *lua.LState) int {
			L.Push(lua.LString("hello " + L.CheckString(1)))
			return 1
		},
	})
	defer state.Close()

	err := state.DoString(`
		local host = require("host")
		greeting = host.greet("world")
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := state.GetGlobal("greeting").String(); got != "hello world" {
		t.Errorf("greeting = %q, want %q", got, "hello world")
	}
}

func TestStateCallAsExposesCaller(t *testing.T) {
	state := NewState()
	defer state.Close()

	state.RegisterModule("host", map[string]lua.LGFunction{
		"actor": func(L *lua.LState) int {
			L.Push(lua.LString(state.CurrentCaller().UserID))
			return 1
		},
	})
	err := state.DoString(`
		local host = require("host")
		function whoami()
			return host.actor()
		end
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	results, err := state.CallAs(identity.User("alice"), "whoami")
	if err != nil {
		t.Fatalf("CallAs() error = %v", err)
	}
	if got := results[0].String(); got != "alice" {
		t.Errorf("whoami() under alice = %q, want alice", got)
	}

	// A plain Call carries no actor.
	results, err = state.Call("whoami")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := results[0].String(); got != "" {
		t.Errorf("whoami() unattributed = %q, want empty", got)
	}
}

func TestStateClose(t *testing.T) {
	state := NewState()
	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}

	if _, err := state.Call("anything"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() after Close() error = %v, want ErrStateClosed", err)
	}
	if err := state.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() after Close() error = %v, want ErrStateClosed", err)
	}
}
