package luaengine

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua. RPC and hook arguments arrive
// as JSON-decoded Go values (bool, float64/int64, string, []any,
// map[string]any), so the bridge covers exactly that shape plus integers.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for the given state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Lua tables become either
// []any (contiguous 1-based integer keys) or map[string]any. Functions and
// other unconvertible values become nil.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValue(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGoValue(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // break cycles
		}
		visited[v] = true
		return b.tableToGo(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok {
			isArray = false
			return
		}
		n := int(kn)
		if float64(n) != float64(kn) || n <= 0 {
			isArray = false
			return
		}
		if n > maxN {
			maxN = n
		}
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValue(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.toGoValue(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, b.ToLuaValue(item))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSetString(k, b.ToLuaValue(item))
		}
		return t
	case map[string]string:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case lua.LValue:
		return val
	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// WrapGoFunc wraps a Go function for registration as a Lua function.
func (b *Bridge) WrapGoFunc(fn func(args []any) (any, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		nArgs := L.GetTop()
		args := make([]any, nArgs)
		for i := 1; i <= nArgs; i++ {
			args[i-1] = b.ToGoValue(L.Get(i))
		}

		result, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if result == nil {
			return 0
		}
		L.Push(b.ToLuaValue(result))
		return 1
	}
}
