package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestBuilder(t *testing.T, steps ...string) (*Builder, string) {
	t.Helper()
	sourcesDir := t.TempDir()
	bundleDir := t.TempDir()
	b := New(Config{
		SourcesDir:  sourcesDir,
		BundleDir:   bundleDir,
		Steps:       steps,
		StepTimeout: 10 * time.Second,
	})
	return b, sourcesDir
}

func mkSource(t *testing.T, sourcesDir, name string) string {
	t.Helper()
	dir := filepath.Join(sourcesDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return dir
}

func wait(t *testing.T, build *Build) Result {
	t.Helper()
	select {
	case <-build.Done():
		return build.Result()
	case <-time.After(30 * time.Second):
		t.Fatal("build did not finish")
		return Result{}
	}
}

func TestBuildSuccess(t *testing.T) {
	b, sourcesDir := newTestBuilder(t, `echo "compiling $MODHOST_PLUGIN"`, `true`)
	mkSource(t, sourcesDir, "economy")

	build, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if build.ID == "" {
		t.Error("build ID empty")
	}

	result := wait(t, build)
	if !result.OK {
		t.Fatalf("result = %+v, want OK", result)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2", len(result.Steps))
	}
	if !strings.Contains(result.Steps[0].Output, "compiling economy") {
		t.Errorf("step output = %q, want the env var expanded", result.Steps[0].Output)
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

func TestBuilderLastResult(t *testing.T) {
	b, sourcesDir := newTestBuilder(t, `true`)
	mkSource(t, sourcesDir, "economy")

	if _, ok := b.LastResult("economy"); ok {
		t.Fatal("LastResult before any build should report nothing")
	}

	build, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	wait(t, build)

	result, ok := b.LastResult("economy")
	if !ok {
		t.Fatal("LastResult after completion should report the build")
	}
	if result.ID != build.ID {
		t.Errorf("LastResult ID = %q, want %q", result.ID, build.ID)
	}
	if !result.OK {
		t.Errorf("result = %+v, want OK", result)
	}

	if _, ok := b.LastResult("ghost"); ok {
		t.Error("LastResult(ghost) reported a build")
	}
}

func TestBuildStopsAtFirstFailingStep(t *testing.T) {
	b, sourcesDir := newTestBuilder(t,
		`echo step-one`,
		`echo broken >&2; exit 3`,
		`echo never-reached`,
	)
	mkSource(t, sourcesDir, "economy")

	build, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	result := wait(t, build)
	if result.OK {
		t.Fatal("result OK, want failure")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2 (stop at first failure)", len(result.Steps))
	}
	if result.Steps[1].ExitStatus != 3 {
		t.Errorf("ExitStatus = %d, want 3", result.Steps[1].ExitStatus)
	}
	if !strings.Contains(result.Steps[1].Output, "broken") {
		t.Errorf("Output = %q, want captured stderr", result.Steps[1].Output)
	}
}

func TestBuildMissingBuildScript(t *testing.T) {
	// Default pipeline: the plugin has no build.sh, so the first step fails
	// with the shell's own diagnostics.
	sourcesDir := t.TempDir()
	b := New(Config{
		SourcesDir:  sourcesDir,
		BundleDir:   t.TempDir(),
		StepTimeout: 10 * time.Second,
	})
	mkSource(t, sourcesDir, "bare")

	build, err := b.Build(context.Background(), "bare")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	result := wait(t, build)
	if result.OK {
		t.Fatal("result OK, want failure without build.sh")
	}
	if result.Steps[0].ExitStatus == 0 {
		t.Errorf("ExitStatus = 0, want nonzero")
	}
}

func TestBuildUnknownPlugin(t *testing.T) {
	b, _ := newTestBuilder(t, `true`)

	_, err := b.Build(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("Build(ghost) error = %v, want ErrUnknownPlugin", err)
	}
}

func TestBuildRejectsSecondInFlight(t *testing.T) {
	b, sourcesDir := newTestBuilder(t, `sleep 2`)
	mkSource(t, sourcesDir, "economy")

	first, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := b.Build(context.Background(), "economy"); !errors.Is(err, ErrBuildInFlight) {
		t.Errorf("second Build() error = %v, want ErrBuildInFlight", err)
	}

	wait(t, first)

	// After completion, a fresh build is accepted again.
	again, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() after completion error = %v", err)
	}
	wait(t, again)
}

func TestBuildDifferentPluginsConcurrently(t *testing.T) {
	b, sourcesDir := newTestBuilder(t, `sleep 1`)
	mkSource(t, sourcesDir, "economy")
	mkSource(t, sourcesDir, "tournament")

	start := time.Now()
	first, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build(economy) error = %v", err)
	}
	second, err := b.Build(context.Background(), "tournament")
	if err != nil {
		t.Fatalf("Build(tournament) error = %v", err)
	}

	wait(t, first)
	wait(t, second)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("two 1s builds took %v, expected overlap", elapsed)
	}
}

func TestBuildInstallsBundle(t *testing.T) {
	sourcesDir := t.TempDir()
	bundleDir := t.TempDir()
	b := New(Config{
		SourcesDir:  sourcesDir,
		BundleDir:   bundleDir,
		StepTimeout: 10 * time.Second,
	})

	dir := mkSource(t, sourcesDir, "economy")
	script := `#!/bin/sh
mkdir -p dist
echo '{"name": "economy", "version": "1.0.0"}' > dist/plugin.json
echo 'function init() end' > dist/init.lua
`
	if err := os.WriteFile(filepath.Join(dir, "build.sh"), []byte(script), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	build, err := b.Build(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	result := wait(t, build)
	if !result.OK {
		t.Fatalf("result = %+v, want OK", result)
	}

	installed := filepath.Join(bundleDir, "economy", "init.lua")
	if _, err := os.Stat(installed); err != nil {
		t.Errorf("bundle not installed: %v", err)
	}
}

func TestListBuildablePlugins(t *testing.T) {
	b, sourcesDir := newTestBuilder(t, `true`)
	mkSource(t, sourcesDir, "zeta")
	mkSource(t, sourcesDir, "alpha")

	got := b.ListBuildablePlugins()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("ListBuildablePlugins() = %v, want [alpha zeta]", got)
	}
}

type fixedLister []string

func (l fixedLister) Plugins() []string { return l }

func TestListBuildablePluginsUsesLister(t *testing.T) {
	b, _ := newTestBuilder(t, `true`)
	b.SetLister(fixedLister{"b", "a"})

	got := b.ListBuildablePlugins()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ListBuildablePlugins() = %v, want [a b]", got)
	}
}
