// Package hostapi installs the host Lua module exposed to plugin code.
// Plugins require("host") to reach structured logging and runtime export
// registration.
package hostapi

import (
	"context"
	"fmt"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"modhost/internal/dynamic"
	"modhost/internal/identity"
	"modhost/internal/luaengine"
)

// API builds per-plugin host modules. One API instance serves every loaded
// plugin; the dynamic registry and logger are shared.
type API struct {
	dyn *dynamic.Registry
	log *slog.Logger
}

// New creates an API over the given dynamic registry.
func New(dyn *dynamic.Registry, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{dyn: dyn, log: log}
}

// Installer returns the hook the registry calls for each fresh plugin
// state, before the entry script runs.
func (a *API) Installer() func(pluginName string, state *luaengine.State) {
	return func(pluginName string, state *luaengine.State) {
		m := &hostModule{
			api:    a,
			plugin: pluginName,
			state:  state,
			bridge: luaengine.NewBridge(state.LuaState()),
			log:    a.log.With("plugin", pluginName),
		}
		state.RegisterModule("host", map[string]lua.LGFunction{
			"log_debug":    m.logAt(slog.LevelDebug),
			"log_info":     m.logAt(slog.LevelInfo),
			"log_warn":     m.logAt(slog.LevelWarn),
			"log_error":    m.logAt(slog.LevelError),
			"plugin_name":  m.pluginName,
			"caller":       m.caller,
			"register_rpc": m.registerRPC,
		})
	}
}

// hostModule is the host table bound to one plugin state.
type hostModule struct {
	api    *API
	plugin string
	state  *luaengine.State
	bridge *luaengine.Bridge
	log    *slog.Logger
}

// log_debug(msg) etc. Additional arguments are stringified and appended.
func (m *hostModule) logAt(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		var attrs []any
		for i := 2; i <= L.GetTop(); i++ {
			attrs = append(attrs, slog.Any(fmt.Sprintf("arg%d", i-1), m.bridge.ToGoValue(L.Get(i))))
		}
		m.log.Log(context.Background(), level, msg, attrs...)
		return 0
	}
}

// plugin_name() -> string
func (m *hostModule) pluginName(L *lua.LState) int {
	L.Push(lua.LString(m.plugin))
	return 1
}

// caller() -> {user_id = string, system = bool}
// Returns the actor the current invocation runs on behalf of. An anonymous
// call yields an empty user_id with system false; outside an invocation,
// for example during the entry script, the table is the anonymous caller.
func (m *hostModule) caller(L *lua.LState) int {
	c := m.state.CurrentCaller()
	tbl := L.NewTable()
	tbl.RawSetString("user_id", lua.LString(c.UserID))
	tbl.RawSetString("system", lua.LBool(c.System))
	L.Push(tbl)
	return 1
}

// register_rpc(name, fn_name [, meta])
// Registers the global function fn_name as a runtime export under name.
// The optional meta table may carry args (array of names), description and
// example_args.
func (m *hostModule) registerRPC(L *lua.LState) int {
	name := L.CheckString(1)
	fnName := L.CheckString(2)

	var meta dynamic.Metadata
	if L.GetTop() >= 3 {
		meta = m.parseMeta(L.CheckTable(3))
	}

	plugin := m.plugin
	state := m.state
	bridge := m.bridge
	m.api.dyn.Register(plugin, name, meta, func(ctx context.Context, args []any, caller identity.Caller) (any, error) {
		luaArgs := make([]lua.LValue, len(args))
		for i, arg := range args {
			luaArgs[i] = bridge.ToLuaValue(arg)
		}
		results, err := state.CallAs(caller, fnName, luaArgs...)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", fnName, err)
		}
		if len(results) == 0 {
			return nil, nil
		}
		return bridge.ToGoValue(results[0]), nil
	})

	m.log.Debug("runtime export registered", "name", name, "fn", fnName)
	return 0
}

func (m *hostModule) parseMeta(tbl *lua.LTable) dynamic.Metadata {
	var meta dynamic.Metadata

	if args, ok := tbl.RawGetString("args").(*lua.LTable); ok {
		args.ForEach(func(_, v lua.LValue) {
			if s, ok := v.(lua.LString); ok {
				meta.Args = append(meta.Args, dynamic.ArgSpec{Name: string(s)})
			}
		})
	}
	if desc, ok := tbl.RawGetString("description").(lua.LString); ok {
		meta.Description = string(desc)
	}
	if example, ok := m.bridge.ToGoValue(tbl.RawGetString("example_args")).([]any); ok {
		meta.ExampleArgs = example
	}
	return meta
}
