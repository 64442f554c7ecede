package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Manifest describes a plugin bundle: identity, entry point, and the RPC
// functions the bundle exports. It is read from plugin.json at the bundle
// root.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`

	// Main is the relative path to the entry script (default "init.lua").
	Main string `json:"main"`

	// Exports declares the functions callable through the RPC surface.
	// A name may appear more than once with different argument lists; each
	// entry is one arity.
	Exports []ExportDecl `json:"exports"`

	// path to the bundle directory, set by the loader.
	path string
}

// ExportDecl declares a single exported function signature.
type ExportDecl struct {
	Name        string   `json:"name"`
	Args        []string `json:"args"`
	Doc         string   `json:"doc"`
	ExampleArgs []any    `json:"exampleArgs"`
}

// Arity returns the declared argument count.
func (d ExportDecl) Arity() int {
	return len(d.Args)
}

// Signature returns a human-readable name/arity signature with argument
// names, e.g. "grant_coins(user_id, amount)".
func (d ExportDecl) Signature() string {
	sig := d.Name + "("
	for i, a := range d.Args {
		if i > 0 {
			sig += ", "
		}
		sig += a
	}
	return sig + ")"
}

// Manifest validation errors.
var (
	ErrMissingName     = errors.New("manifest: name is required")
	ErrInvalidName     = errors.New("manifest: name must be lowercase alphanumeric with hyphens or underscores")
	ErrMissingVersion  = errors.New("manifest: version is required")
	ErrInvalidVersion  = errors.New("manifest: version must be valid semver")
	ErrInvalidMain     = errors.New("manifest: main must be a .lua file")
	ErrDuplicateExport = errors.New("manifest: duplicate export name/arity")
	ErrEmptyExportName = errors.New("manifest: export name is required")
	ErrColonExportName = errors.New("manifest: export name must not contain ':'")
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest reads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m.path = filepath.Dir(path)
	if m.Main == "" {
		m.Main = "init.lua"
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest invariants.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
	}
	if filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %q", ErrInvalidMain, m.Main)
	}

	seen := make(map[string]bool, len(m.Exports))
	for _, d := range m.Exports {
		if d.Name == "" {
			return ErrEmptyExportName
		}
		for _, c := range d.Name {
			if c == ':' {
				return fmt.Errorf("%w: %q", ErrColonExportName, d.Name)
			}
		}
		key := fmt.Sprintf("%s/%d", d.Name, d.Arity())
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateExport, key)
		}
		seen[key] = true
	}
	return nil
}

// Path returns the bundle directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the absolute path to the entry script.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}
