// Package introspect merges the static and dynamic export catalogues into
// one read-only listing of callable functions for discovery and admin
// tooling. On a (plugin, name) collision the static entry wins; the dynamic
// entry is only dropped from the merged view, never from its registry.
package introspect

import (
	"encoding/json"
	"sort"

	"modhost/internal/dynamic"
	"modhost/internal/registry"
)

// Signature describes one arity of an exported function.
type Signature struct {
	Arity           int    `json:"arity"`
	SignatureText   string `json:"signature"`
	Doc             string `json:"doc"`
	ExampleArgsJSON string `json:"exampleArgs"`
}

// ExportedFunction is one callable function in the merged listing.
type ExportedFunction struct {
	PluginName string      `json:"plugin"`
	Name       string      `json:"name"`
	Dynamic    bool        `json:"dynamic"`
	Arities    []int       `json:"arities"`
	Signatures []Signature `json:"signatures"`
}

// StaticCatalogue supplies manifest-declared exports of Ok plugins.
// Implemented by *registry.Registry.
type StaticCatalogue interface {
	Exports() map[string][]registry.ExportDecl
}

// DynamicCatalogue supplies runtime-registered exports. Implemented by
// *dynamic.Registry.
type DynamicCatalogue interface {
	ListAll() []dynamic.PluginExports
}

// Merged returns the full export listing, deterministic and sorted by
// (plugin, name).
func Merged(static StaticCatalogue, dyn DynamicCatalogue) []ExportedFunction {
	type key struct {
		plugin string
		name   string
	}
	merged := make(map[key]*ExportedFunction)

	for pluginName, decls := range static.Exports() {
		for _, d := range decls {
			k := key{pluginName, d.Name}
			fn, ok := merged[k]
			if !ok {
				fn = &ExportedFunction{PluginName: pluginName, Name: d.Name}
				merged[k] = fn
			}
			fn.Arities = append(fn.Arities, d.Arity())
			fn.Signatures = append(fn.Signatures, Signature{
				Arity:           d.Arity(),
				SignatureText:   d.Signature(),
				Doc:             d.Doc,
				ExampleArgsJSON: marshalExample(d.ExampleArgs),
			})
		}
	}

	for _, pe := range dyn.ListAll() {
		for _, e := range pe.Exports {
			k := key{pe.PluginName, e.HookName}
			if _, taken := merged[k]; taken {
				continue // static precedence
			}
			arity := len(e.Metadata.Args)
			merged[k] = &ExportedFunction{
				PluginName: pe.PluginName,
				Name:       e.HookName,
				Dynamic:    true,
				Arities:    []int{arity},
				Signatures: []Signature{{
					Arity:           arity,
					SignatureText:   dynamicSignature(e),
					Doc:             e.Metadata.Description,
					ExampleArgsJSON: marshalExample(e.Metadata.ExampleArgs),
				}},
			}
		}
	}

	out := make([]ExportedFunction, 0, len(merged))
	for _, fn := range merged {
		sort.Ints(fn.Arities)
		sort.Slice(fn.Signatures, func(i, j int) bool {
			return fn.Signatures[i].Arity < fn.Signatures[j].Arity
		})
		out = append(out, *fn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PluginName != out[j].PluginName {
			return out[i].PluginName < out[j].PluginName
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func dynamicSignature(e dynamic.Export) string {
	sig := e.HookName + "("
	for i, a := range e.Metadata.Args {
		if i > 0 {
			sig += ", "
		}
		sig += a.Name
	}
	return sig + ")"
}

func marshalExample(args []any) string {
	if len(args) == 0 {
		return "[]"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "[]"
	}
	return string(data)
}
