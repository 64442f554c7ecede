// Package registry discovers plugin bundles on disk, loads each into a
// sandboxed Lua state, and publishes the loaded set as an atomically swapped
// snapshot. Readers (the RPC invoker and hook dispatcher) never block on a
// reload and never observe a partially updated set.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"modhost/internal/identity"
	"modhost/internal/luaengine"
	"modhost/internal/metrics"
)

// Status is the load status of a plugin.
type Status int

const (
	// StatusOk means the implementation handle is loaded and addressable.
	StatusOk Status = iota
	// StatusError means the bundle failed to load; Reason explains why.
	StatusError
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// PluginStatus is the operator-visible record for one plugin.
type PluginStatus struct {
	Name     string
	Version  string
	Status   Status
	Reason   string
	LoadedAt time.Time
}

// HookModule pairs a plugin name with its callable handle. Only Ok plugins
// appear as hook modules.
type HookModule struct {
	Name   string
	Handle Handle
}

// LookupResult classifies a plugin lookup.
type LookupResult int

const (
	// LookupMissing means no plugin with that name is known.
	LookupMissing LookupResult = iota
	// LookupBroken means the plugin is known but has no usable handle.
	LookupBroken
	// LookupOk means the plugin is loaded and callable.
	LookupOk
)

// ReloadReport summarizes one reload pass.
type ReloadReport struct {
	Loaded        []string
	Failed        map[string]string
	StartupErrors map[string]string
}

// Config configures a Registry.
type Config struct {
	// BundleDir is the directory holding installed plugin bundles, one
	// subdirectory per plugin.
	BundleDir string

	// CallTimeout bounds the after_startup call made during reload.
	CallTimeout time.Duration

	// InstructionLimit is the advisory per-execution Lua instruction limit.
	InstructionLimit int64

	// InstallHost, when set, is called for every freshly created state to
	// preload host.* modules before the entry script runs.
	InstallHost func(pluginName string, state *luaengine.State)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// plugin is the internal registry record.
type plugin struct {
	name     string
	version  string
	status   Status
	reason   string
	loadedAt time.Time
	handle   *luaHandle
}

// snapshot is an immutable view of the loaded plugin set.
type snapshot struct {
	plugins map[string]*plugin
	order   []string
}

var emptySnapshot = &snapshot{plugins: map[string]*plugin{}}

// Registry owns the loaded plugin set.
type Registry struct {
	cfg  Config
	log  *slog.Logger
	snap atomic.Pointer[snapshot]

	// reloadMu serializes reloads with respect to each other only; readers
	// go through the atomic snapshot pointer.
	reloadMu sync.Mutex
}

// New creates a Registry. No bundles are loaded until the first reload.
func New(cfg Config) *Registry {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = luaengine.DefaultCallTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{cfg: cfg, log: log}
	r.snap.Store(emptySnapshot)
	return r
}

// List returns the current snapshot including failed loads, sorted by name.
func (r *Registry) List() []PluginStatus {
	snap := r.snap.Load()
	out := make([]PluginStatus, 0, len(snap.order))
	for _, name := range snap.order {
		p := snap.plugins[name]
		out = append(out, PluginStatus{
			Name:     p.name,
			Version:  p.version,
			Status:   p.status,
			Reason:   p.reason,
			LoadedAt: p.loadedAt,
		})
	}
	return out
}

// HookModules returns the handles of all Ok plugins, sorted by name.
func (r *Registry) HookModules() []HookModule {
	snap := r.snap.Load()
	out := make([]HookModule, 0, len(snap.order))
	for _, name := range snap.order {
		p := snap.plugins[name]
		if p.status == StatusOk {
			out = append(out, HookModule{Name: p.name, Handle: p.handle})
		}
	}
	return out
}

// Lookup resolves a plugin name against the current snapshot.
func (r *Registry) Lookup(name string) (Handle, LookupResult) {
	snap := r.snap.Load()
	p, ok := snap.plugins[name]
	if !ok {
		return nil, LookupMissing
	}
	if p.status != StatusOk {
		return nil, LookupBroken
	}
	return p.handle, LookupOk
}

// Exports returns the declared static exports of every Ok plugin.
func (r *Registry) Exports() map[string][]ExportDecl {
	snap := r.snap.Load()
	out := make(map[string][]ExportDecl)
	for _, name := range snap.order {
		p := snap.plugins[name]
		if p.status == StatusOk {
			out[p.name] = p.handle.exportDecls()
		}
	}
	return out
}

// ReloadAndAfterStartup rescans the bundle directory, loads every discovered
// bundle, swaps the snapshot atomically, and invokes after_startup exactly
// once for each plugin that is now Ok and defines it. A broken bundle
// becomes an Error entry; it never aborts the reload or the other bundles.
//
// Old handles are not closed: an invocation that resolved before the swap
// may still be running against its pre-reload handle. Discarded states are
// reclaimed by the garbage collector once those calls drain.
func (r *Registry) ReloadAndAfterStartup() ReloadReport {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	report := ReloadReport{
		Failed:        make(map[string]string),
		StartupErrors: make(map[string]string),
	}

	next := &snapshot{plugins: make(map[string]*plugin)}

	for _, dir := range r.bundleDirs() {
		p := r.loadBundle(dir)
		if _, exists := next.plugins[p.name]; exists {
			r.log.Warn("duplicate plugin name, keeping first", "plugin", p.name, "dir", dir)
			continue
		}
		next.plugins[p.name] = p
		next.order = append(next.order, p.name)

		if p.status == StatusOk {
			report.Loaded = append(report.Loaded, p.name)
		} else {
			report.Failed[p.name] = p.reason
			r.log.Warn("plugin failed to load", "plugin", p.name, "reason", p.reason)
		}
	}
	sort.Strings(next.order)
	sort.Strings(report.Loaded)

	r.snap.Store(next)
	r.cfg.Metrics.IncReload()
	r.cfg.Metrics.SetPluginCounts(len(report.Loaded), len(report.Failed))
	r.log.Info("plugin registry reloaded", "ok", len(report.Loaded), "failed", len(report.Failed))

	for _, name := range report.Loaded {
		p := next.plugins[name]
		if !p.handle.HasHook("after_startup") {
			continue
		}
		if err := r.boundedCall(p.handle, "after_startup", nil); err != nil {
			report.StartupErrors[name] = err.Error()
			r.log.Warn("after_startup failed", "plugin", name, "error", err)
		}
	}

	return report
}

// bundleDirs lists candidate bundle directories, sorted for deterministic
// first-wins duplicate handling.
func (r *Registry) bundleDirs() []string {
	entries, err := os.ReadDir(r.cfg.BundleDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("cannot read bundle dir", "dir", r.cfg.BundleDir, "error", err)
		}
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(r.cfg.BundleDir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

// loadBundle loads one bundle directory into a fresh state. Load failures
// of any kind, including panics out of the Lua VM, are captured as an
// Error record.
func (r *Registry) loadBundle(dir string) (p *plugin) {
	name := filepath.Base(dir)
	p = &plugin{name: name, loadedAt: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			p.status = StatusError
			p.reason = fmt.Sprintf("panic during load: %v", rec)
			p.handle = nil
		}
	}()

	manifestPath := filepath.Join(dir, "plugin.json")
	if _, err := os.Stat(manifestPath); err != nil {
		p.status = StatusError
		p.reason = ErrNoManifest.Error()
		return p
	}

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		p.status = StatusError
		p.reason = err.Error()
		return p
	}
	p.name = manifest.Name
	p.version = manifest.Version

	state := luaengine.NewState(luaengine.WithInstructionLimit(r.cfg.InstructionLimit))
	if r.cfg.InstallHost != nil {
		r.cfg.InstallHost(p.name, state)
	}

	if _, err := os.Stat(manifest.MainPath()); err != nil {
		state.Close()
		p.status = StatusError
		p.reason = fmt.Sprintf("%s: %s", ErrNoEntryPoint.Error(), manifest.Main)
		return p
	}

	if err := state.DoFile(manifest.MainPath()); err != nil {
		state.Close()
		p.status = StatusError
		p.reason = fmt.Sprintf("entry script failed: %v", err)
		return p
	}

	for _, d := range manifest.Exports {
		if !state.HasFunction(d.Name) {
			state.Close()
			p.status = StatusError
			p.reason = fmt.Sprintf("%s: %s", ErrExportNotDefined.Error(), d.Name)
			return p
		}
	}

	p.status = StatusOk
	p.handle = newLuaHandle(state, manifest)
	return p
}

// boundedCall invokes a lifecycle function under the registry's call
// timeout, detaching the call on expiry.
func (r *Registry) boundedCall(h Handle, fn string, args []any) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		_, err := h.Invoke(fn, args, identity.System())
		done <- err
	}()

	timer := time.NewTimer(r.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s timed out after %s", fn, r.cfg.CallTimeout)
	}
}
