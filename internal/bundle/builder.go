// Package bundle compiles plugin source trees into loadable bundles. A
// build runs a fixed pipeline of shell steps against the plugin's source
// directory, capturing each step's command, exit status, and combined
// output. Builds run out of the request path and report back through a
// one-shot completion channel; installing a bundle never triggers a
// registry reload by itself.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"modhost/internal/metrics"
)

// Builder errors.
var (
	// ErrBuildInFlight is returned when the plugin already has a running
	// build; concurrent builds of one plugin would race on the artifact.
	ErrBuildInFlight = errors.New("build already in flight for plugin")

	// ErrUnknownPlugin is returned when the plugin has no source tree.
	ErrUnknownPlugin = errors.New("no source tree for plugin")
)

// StepResult records one executed pipeline step.
type StepResult struct {
	Command    string `json:"command"`
	ExitStatus int    `json:"exitStatus"`
	Output     string `json:"output"`
}

// Result is the immutable outcome of one build attempt.
type Result struct {
	ID         string       `json:"id"`
	PluginName string       `json:"plugin"`
	OK         bool         `json:"ok"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Steps      []StepResult `json:"steps"`
}

// Build is the async handle returned to the initiator. The result is valid
// once Done is closed.
type Build struct {
	ID         string
	PluginName string

	done   chan struct{}
	result Result
}

// Done returns a channel closed when the build completes.
func (b *Build) Done() <-chan struct{} {
	return b.done
}

// Result returns the build outcome. Only valid after Done is closed.
func (b *Build) Result() Result {
	return b.result
}

// Config configures a Builder.
type Config struct {
	// SourcesDir holds one source tree per buildable plugin.
	SourcesDir string

	// BundleDir is where finished bundles are installed.
	BundleDir string

	// Steps are the pipeline commands, run in order through the shell in
	// the plugin's source directory. Each step sees MODHOST_PLUGIN,
	// MODHOST_SOURCE_DIR and MODHOST_BUNDLE_DIR in its environment.
	// Empty means DefaultSteps.
	Steps []string

	// Shell runs the steps (default /bin/sh).
	Shell string

	// StepTimeout bounds each individual step (default 5 minutes).
	StepTimeout time.Duration

	// MaxConcurrent caps builds running at once across plugins.
	MaxConcurrent int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultSteps runs the plugin's own build script, then installs the
// resulting tree as the plugin's bundle.
var DefaultSteps = []string{
	`./build.sh`,
	`mkdir -p "$MODHOST_BUNDLE_DIR" && rm -rf "$MODHOST_BUNDLE_DIR/$MODHOST_PLUGIN" && cp -R dist "$MODHOST_BUNDLE_DIR/$MODHOST_PLUGIN"`,
}

// Lister supplies the buildable plugin set, typically maintained by the
// sources watcher. Optional; the builder falls back to scanning.
type Lister interface {
	Plugins() []string
}

// Builder runs bundle builds.
type Builder struct {
	cfg    Config
	log    *slog.Logger
	sem    chan struct{}
	lister Lister

	mu       sync.Mutex
	inflight map[string]*Build
	results  map[string]Result
}

// New creates a Builder.
func New(cfg Config) *Builder {
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultSteps
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		inflight: make(map[string]*Build),
		results:  make(map[string]Result),
	}
}

// SetLister installs a buildable-plugin source, replacing directory scans.
func (b *Builder) SetLister(l Lister) {
	b.lister = l
}

// SourcesDir returns the plugin source root.
func (b *Builder) SourcesDir() string {
	return b.cfg.SourcesDir
}

// ListBuildablePlugins returns the names of plugins with a source tree,
// sorted.
func (b *Builder) ListBuildablePlugins() []string {
	if b.lister != nil {
		names := b.lister.Plugins()
		sort.Strings(names)
		return names
	}

	entries, err := os.ReadDir(b.cfg.SourcesDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// LastResult returns the most recent completed build of the plugin. Build
// initiators that do not wait on the handle poll this until the returned
// result carries the ID they were handed.
func (b *Builder) LastResult(pluginName string) (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result, ok := b.results[pluginName]
	return result, ok
}

// Build starts an asynchronous build for the plugin. It rejects a second
// build of a plugin whose previous build is still in flight; builds of
// different plugins proceed concurrently.
func (b *Builder) Build(ctx context.Context, pluginName string) (*Build, error) {
	sourceDir := filepath.Join(b.cfg.SourcesDir, pluginName)
	if stat, err := os.Stat(sourceDir); err != nil || !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginName)
	}

	build := &Build{
		ID:         uuid.NewString(),
		PluginName: pluginName,
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if _, running := b.inflight[pluginName]; running {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBuildInFlight, pluginName)
	}
	b.inflight[pluginName] = build
	b.mu.Unlock()

	go b.run(ctx, build, sourceDir)
	return build, nil
}

func (b *Builder) run(ctx context.Context, build *Build, sourceDir string) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	result := Result{
		ID:         build.ID,
		PluginName: build.PluginName,
		StartedAt:  time.Now(),
	}

	ok := true
	for _, command := range b.cfg.Steps {
		step := b.runStep(ctx, command, sourceDir, build.PluginName)
		result.Steps = append(result.Steps, step)
		if step.ExitStatus != 0 {
			ok = false
			break
		}
	}
	result.OK = ok
	result.FinishedAt = time.Now()

	build.result = result
	close(build.done)

	b.mu.Lock()
	delete(b.inflight, build.PluginName)
	b.results[build.PluginName] = result
	b.mu.Unlock()

	b.cfg.Metrics.ObserveBuild(ok, result.FinishedAt.Sub(result.StartedAt))
	if ok {
		b.log.Info("bundle build succeeded", "plugin", build.PluginName, "build", build.ID)
	} else {
		last := result.Steps[len(result.Steps)-1]
		b.log.Warn("bundle build failed",
			"plugin", build.PluginName, "build", build.ID,
			"step", last.Command, "exit", last.ExitStatus)
	}
}

// runStep executes one pipeline command through the shell, capturing
// combined output and the exit status. A step that cannot even start is
// recorded with exit status -1 and the error as output.
func (b *Builder) runStep(ctx context.Context, command, sourceDir, pluginName string) StepResult {
	stepCtx, cancel := context.WithTimeout(ctx, b.cfg.StepTimeout)
	defer cancel()

	cmd := osexec.CommandContext(stepCtx, b.cfg.Shell, "-c", command)
	cmd.Dir = sourceDir
	cmd.Env = append(os.Environ(),
		"MODHOST_PLUGIN="+pluginName,
		"MODHOST_SOURCE_DIR="+sourceDir,
		"MODHOST_BUNDLE_DIR="+b.cfg.BundleDir,
	)

	output, err := cmd.CombinedOutput()
	step := StepResult{Command: command, Output: string(output)}

	switch {
	case err == nil:
		step.ExitStatus = 0
	case stepCtx.Err() != nil:
		step.ExitStatus = -1
		step.Output += "\nstep timed out: " + stepCtx.Err().Error()
	default:
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			step.ExitStatus = exitErr.ExitCode()
		} else {
			step.ExitStatus = -1
			step.Output += "\n" + err.Error()
		}
	}
	return step
}
