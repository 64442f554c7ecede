// Package dynamic is the runtime-registered export catalogue: callable
// functions exposed by name and metadata without a compiled bundle behind
// them. It trades the Lua sandbox for flexibility; how a handler executes
// is up to whoever registers it.
package dynamic

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"modhost/internal/identity"
)

// ArgSpec names one declared argument.
type ArgSpec struct {
	Name string `json:"name"`
}

// Metadata describes a dynamic export for introspection.
type Metadata struct {
	Args        []ArgSpec `json:"args"`
	Description string    `json:"description"`
	ExampleArgs []any     `json:"exampleArgs"`
}

// Handler executes a dynamic export. Implementations define their own
// execution technology; the runtime only routes to them.
type Handler func(ctx context.Context, args []any, caller identity.Caller) (any, error)

// Export is one registered dynamic function.
type Export struct {
	PluginName string
	HookName   string
	Metadata   Metadata
	Handler    Handler
}

// Registry holds dynamic exports keyed by plugin name. Updates replace a
// plugin's export list atomically via copy-on-write; readers never observe
// a partially updated catalogue.
type Registry struct {
	// writeMu serializes writers; readers go through the atomic pointer.
	writeMu sync.Mutex
	exports atomic.Pointer[map[string][]Export]
}

// NewRegistry creates an empty dynamic export registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string][]Export)
	r.exports.Store(&empty)
	return r
}

// Register adds or replaces a single export for a plugin. An existing
// export with the same hook name is replaced in place; new names append.
func (r *Registry) Register(pluginName, hookName string, meta Metadata, handler Handler) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.exports.Load()
	next := make(map[string][]Export, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}

	entry := Export{PluginName: pluginName, HookName: hookName, Metadata: meta, Handler: handler}

	list := append([]Export(nil), next[pluginName]...)
	replaced := false
	for i := range list {
		if list[i].HookName == hookName {
			list[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, entry)
	}
	next[pluginName] = list

	r.exports.Store(&next)
}

// ReplacePlugin swaps a plugin's entire export list. An empty list removes
// the plugin from the catalogue.
func (r *Registry) ReplacePlugin(pluginName string, exports []Export) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.exports.Load()
	next := make(map[string][]Export, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}

	if len(exports) == 0 {
		delete(next, pluginName)
	} else {
		list := make([]Export, len(exports))
		for i, e := range exports {
			e.PluginName = pluginName
			list[i] = e
		}
		next[pluginName] = list
	}

	r.exports.Store(&next)
}

// Lookup resolves a (plugin, function) pair.
func (r *Registry) Lookup(pluginName, hookName string) (Export, bool) {
	cur := *r.exports.Load()
	for _, e := range cur[pluginName] {
		if e.HookName == hookName {
			return e, true
		}
	}
	return Export{}, false
}

// HasPlugin reports whether the plugin has any dynamic exports.
func (r *Registry) HasPlugin(pluginName string) bool {
	cur := *r.exports.Load()
	_, ok := cur[pluginName]
	return ok
}

// PluginExports groups a plugin's exports for listing.
type PluginExports struct {
	PluginName string
	Exports    []Export
}

// ListAll returns every registered export, grouped by plugin and sorted by
// plugin name. Within a plugin, registration order is preserved.
func (r *Registry) ListAll() []PluginExports {
	cur := *r.exports.Load()

	names := make([]string, 0, len(cur))
	for name := range cur {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PluginExports, 0, len(names))
	for _, name := range names {
		out = append(out, PluginExports{
			PluginName: name,
			Exports:    append([]Export(nil), cur[name]...),
		})
	}
	return out
}
