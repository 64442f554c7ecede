package luaengine

import (
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts a plugin's Lua state to safe operations. Plugins run
// inside the game backend's request path, so the sandbox is always strict:
// no filesystem, no process spawning, no arbitrary module loading. Host
// functionality is exposed only through preloaded "host.*" modules.
type Sandbox struct {
	L *lua.LState

	instructionLimit int64
	instructionCount int64
}

// NewSandbox creates a sandbox for the given state.
func NewSandbox(L *lua.LState, instructionLimit int64) *Sandbox {
	return &Sandbox{
		L:                L,
		instructionLimit: instructionLimit,
	}
}

// Install removes escape hatches and replaces require with a whitelist.
func (s *Sandbox) Install() {
	// These can load code from outside the bundle.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// installSafeRequire replaces require() with a whitelist-based version.
// package.path/cpath are cleared so nothing can be loaded from disk; only
// built-in safe modules and preloaded host modules resolve.
func (s *Sandbox) installSafeRequire() {
	pkg := s.L.GetGlobal("package")
	if pkgTable, ok := pkg.(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))

		safeLoaded := map[string]bool{
			"_G": true, "string": true, "table": true, "math": true,
			"package": true,
		}
		loaded := s.L.GetField(pkgTable, "loaded")
		if loadedTbl, ok := loaded.(*lua.LTable); ok {
			var stale []string
			loadedTbl.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !safeLoaded[string(ks)] {
					stale = append(stale, string(ks))
				}
			})
			for _, key := range stale {
				loadedTbl.RawSetString(key, lua.LNil)
			}
		}
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		allowed := safeModules[modName] ||
			modName == "host" ||
			strings.HasPrefix(modName, "host.")
		if !allowed {
			L.RaiseError("module %q is not available", modName)
			return 0 // unreachable after RaiseError
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// ResetInstructionCount resets the per-execution instruction counter.
func (s *Sandbox) ResetInstructionCount() {
	atomic.StoreInt64(&s.instructionCount, 0)
}

// InstructionCount returns the current instruction count.
func (s *Sandbox) InstructionCount() int64 {
	return atomic.LoadInt64(&s.instructionCount)
}

// IncrementInstructions adds to the counter and reports limit exhaustion.
func (s *Sandbox) IncrementInstructions(n int64) bool {
	if s.instructionLimit <= 0 {
		return false
	}
	return atomic.AddInt64(&s.instructionCount, n) > s.instructionLimit
}
