package registry

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"modhost/internal/identity"
	"modhost/internal/luaengine"
)

// Handle is the opaque callable capability behind an Ok plugin. Resolution
// is arity-keyed for exported RPC functions and name-keyed for lifecycle
// hooks, which are not declared in the manifest.
type Handle interface {
	// Has reports whether the plugin exports fn at the given arity.
	Has(fn string, arity int) bool

	// HasHook reports whether the entry script defines a global function
	// with the given name.
	HasHook(fn string) bool

	// Invoke calls fn with the given arguments on behalf of caller and
	// returns its first result (nil when the function returns nothing).
	// The caller is visible to the plugin through the host module.
	Invoke(fn string, args []any, caller identity.Caller) (any, error)
}

// luaHandle backs a Handle with a sandboxed Lua state. Calls serialize on
// the state; concurrent invocations of one plugin queue behind each other
// while different plugins proceed independently.
type luaHandle struct {
	state   *luaengine.State
	bridge  *luaengine.Bridge
	exports map[string]map[int]ExportDecl // name -> arity -> decl
}

func newLuaHandle(state *luaengine.State, manifest *Manifest) *luaHandle {
	exports := make(map[string]map[int]ExportDecl, len(manifest.Exports))
	for _, d := range manifest.Exports {
		byArity, ok := exports[d.Name]
		if !ok {
			byArity = make(map[int]ExportDecl)
			exports[d.Name] = byArity
		}
		byArity[d.Arity()] = d
	}
	return &luaHandle{
		state:   state,
		bridge:  luaengine.NewBridge(state.LuaState()),
		exports: exports,
	}
}

func (h *luaHandle) Has(fn string, arity int) bool {
	byArity, ok := h.exports[fn]
	if !ok {
		return false
	}
	if _, ok := byArity[arity]; !ok {
		return false
	}
	return h.state.HasFunction(fn)
}

func (h *luaHandle) HasHook(fn string) bool {
	return h.state.HasFunction(fn)
}

func (h *luaHandle) Invoke(fn string, args []any, caller identity.Caller) (any, error) {
	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = h.bridge.ToLuaValue(arg)
	}

	results, err := h.state.CallAs(caller, fn, luaArgs...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", fn, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return h.bridge.ToGoValue(results[0]), nil
}

// exportDecls returns the declared exports in manifest order-independent
// form, used by the introspection catalogue.
func (h *luaHandle) exportDecls() []ExportDecl {
	var decls []ExportDecl
	for _, byArity := range h.exports {
		for _, d := range byArity {
			decls = append(decls, d)
		}
	}
	return decls
}
