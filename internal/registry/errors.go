package registry

import "errors"

// Registry errors.
var (
	// ErrNoEntryPoint is returned when a bundle has no entry script.
	ErrNoEntryPoint = errors.New("bundle has no entry point")

	// ErrNoManifest is returned when a bundle directory lacks plugin.json.
	ErrNoManifest = errors.New("bundle has no plugin.json")

	// ErrExportNotDefined is returned when a manifest-declared export has
	// no matching global function in the loaded state.
	ErrExportNotDefined = errors.New("declared export is not defined by the entry script")
)
