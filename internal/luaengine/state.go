// Package luaengine provides the sandboxed Lua runtime that backs plugin
// implementation handles. Each plugin owns one State; all calls into a State
// serialize on its mutex because gopher-lua's LState is single-threaded.
package luaengine

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"modhost/internal/identity"
)

// Default limits for a plugin state.
const (
	DefaultCallTimeout      = 5 * time.Second
	DefaultInstructionLimit = 10_000_000
)

// State wraps a sandboxed gopher-lua LState for one plugin.
//
// gopher-lua is not goroutine-safe. The mutex serializes access from Go; a
// call abandoned on timeout still holds the state until the underlying PCall
// returns, which is why timed-out work is detached rather than killed.
type State struct {
	L *lua.LState

	mu sync.Mutex

	instructionLimit int64
	sandbox          *Sandbox
	closed           bool

	// caller is the actor of the in-flight call. Written only while mu is
	// held; host functions running inside that call read it through
	// CurrentCaller.
	caller identity.Caller
}

// StateOption configures a State.
type StateOption func(*State)

// WithInstructionLimit sets the advisory instruction limit per execution.
func WithInstructionLimit(limit int64) StateOption {
	return func(s *State) {
		s.instructionLimit = limit
	}
}

// NewState creates a sandboxed Lua state. Only the base, table, string and
// math libraries are opened; io, os, debug and package loading are withheld
// so plugin code cannot reach the host filesystem or spawn processes.
func NewState(opts ...StateOption) *State {
	s := &State{
		instructionLimit: DefaultInstructionLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	s.L = L

	// The package library backs require and module preloading; the sandbox
	// clears its load paths immediately after.
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s.sandbox = NewSandbox(L, s.instructionLimit)
	s.sandbox.Install()

	return s
}

// DoFile executes a Lua file, typically the bundle entry point.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	s.sandbox.ResetInstructionCount()
	return s.doWithRecovery(func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes Lua source from a string.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	s.sandbox.ResetInstructionCount()
	return s.doWithRecovery(func() error {
		return s.L.DoString(code)
	})
}

func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Call invokes a global Lua function with the given arguments and returns
// all results. Panics inside the VM are recovered and reported as errors.
// The call runs with no actor attached; use CallAs to attribute it.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	return s.CallAs(identity.Anonymous(), fn, args...)
}

// CallAs invokes a global Lua function on behalf of caller. Host functions
// running inside the call observe the actor through CurrentCaller.
func (s *State) CallAs(caller identity.Caller, fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	s.caller = caller
	defer func() { s.caller = identity.Anonymous() }()

	s.sandbox.ResetInstructionCount()

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, fn)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotAFunction, fn, fnVal.Type())
	}

	stackTop := s.L.GetTop()

	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("lua panic: %v", r)
			}
		}()
		callErr = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if callErr != nil {
		return nil, callErr
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)

	return results, nil
}

// CurrentCaller returns the actor of the in-flight call. It is meaningful
// only from host functions executing inside Call or CallAs, which already
// hold the state mutex; outside a call it is the anonymous caller.
func (s *State) CurrentCaller() identity.Caller {
	return s.caller
}

// HasFunction reports whether a global function with the given name exists.
func (s *State) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	v := s.L.GetGlobal(name)
	return v != nil && v.Type() == lua.LTFunction
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// RegisterModule preloads a host module so plugin code can require() it.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.L.PreloadModule(name, func(L *lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), funcs)
		L.Push(mod)
		return 1
	})
}

// LuaState returns the underlying LState. Direct access bypasses the mutex
// and sandbox; callers own the synchronization.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	return nil
}
