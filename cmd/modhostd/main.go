// Package main is the entry point for the modhost plugin daemon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modhost/internal/bundle"
	"modhost/internal/config"
	"modhost/internal/dynamic"
	"modhost/internal/gateway"
	"modhost/internal/hook"
	"modhost/internal/hostapi"
	"modhost/internal/identity"
	"modhost/internal/introspect"
	"modhost/internal/invoke"
	"modhost/internal/metrics"
	"modhost/internal/registry"
	"modhost/internal/sources"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "modhost.toml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("modhostd %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	dyn := dynamic.NewRegistry()
	host := hostapi.New(dyn, log)

	reg := registry.New(registry.Config{
		BundleDir:        cfg.Plugins.BundleDir,
		CallTimeout:      cfg.Plugins.CallTimeout.Std(),
		InstructionLimit: cfg.Plugins.InstructionLimit,
		InstallHost:      host.Installer(),
		Logger:           log,
		Metrics:          m,
	})

	invoker := invoke.NewInvoker(reg, dyn,
		invoke.WithTimeout(cfg.Plugins.CallTimeout.Std()),
		invoke.WithLogger(log),
		invoke.WithMetrics(m),
	)
	dispatcher := hook.NewDispatcher(reg,
		hook.WithTimeout(cfg.Plugins.CallTimeout.Std()),
		hook.WithLogger(log),
		hook.WithMetrics(m),
	)
	gw := gateway.New(invoker, log)

	builder := bundle.New(bundle.Config{
		SourcesDir:    cfg.Build.SourcesDir,
		BundleDir:     cfg.Plugins.BundleDir,
		Shell:         cfg.Build.Shell,
		StepTimeout:   cfg.Build.StepTimeout.Std(),
		MaxConcurrent: cfg.Build.MaxConcurrent,
		Logger:        log,
		Metrics:       m,
	})

	watcher, err := sources.NewWatcher(cfg.Build.SourcesDir, log)
	if err != nil {
		log.Warn("sources watcher unavailable, builds fall back to scanning",
			"dir", cfg.Build.SourcesDir, "error", err)
	} else {
		builder.SetLister(watcher)
		defer watcher.Close()
	}

	report := reg.ReloadAndAfterStartup()
	log.Info("initial plugin load",
		"loaded", len(report.Loaded), "failed", len(report.Failed))
	for name, reason := range report.Failed {
		log.Warn("plugin failed to load", "plugin", name, "reason", reason)
	}
	for name, reason := range report.StartupErrors {
		log.Warn("after_startup failed", "plugin", name, "error", reason)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /rpc", func(w http.ResponseWriter, r *http.Request) {
		payload, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(gw.HandleJSON(r.Context(), payload, callerFrom(r)))
	})
	mux.HandleFunc("POST /hooks/{name}", func(w http.ResponseWriter, r *http.Request) {
		payload, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var args []any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &args); err != nil {
				http.Error(w, "args must be a JSON array", http.StatusBadRequest)
				return
			}
		}
		res := dispatcher.Dispatch(r.Context(), r.PathValue("name"), args, callerFrom(r))
		writeJSON(w, map[string]any{
			"kind":   res.Kind.String(),
			"value":  res.Value,
			"detail": res.Detail,
		})
	})
	mux.HandleFunc("GET /plugins", func(w http.ResponseWriter, r *http.Request) {
		type pluginInfo struct {
			Name     string    `json:"name"`
			Version  string    `json:"version"`
			Status   string    `json:"status"`
			Reason   string    `json:"reason,omitempty"`
			LoadedAt time.Time `json:"loadedAt"`
		}
		statuses := reg.List()
		out := make([]pluginInfo, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, pluginInfo{
				Name:     st.Name,
				Version:  st.Version,
				Status:   st.Status.String(),
				Reason:   st.Reason,
				LoadedAt: st.LoadedAt,
			})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("GET /exports", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, introspect.Merged(reg, dyn))
	})
	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		rep := reg.ReloadAndAfterStartup()
		writeJSON(w, map[string]any{
			"loaded":        rep.Loaded,
			"failed":        rep.Failed,
			"startupErrors": rep.StartupErrors,
		})
	})
	mux.HandleFunc("POST /builds/{plugin}", func(w http.ResponseWriter, r *http.Request) {
		build, err := builder.Build(context.WithoutCancel(r.Context()), r.PathValue("plugin"))
		if err != nil {
			http.Error(w, err.Error(), buildErrorStatus(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": build.ID, "plugin": build.PluginName})
	})
	mux.HandleFunc("GET /builds/{plugin}", func(w http.ResponseWriter, r *http.Request) {
		result, ok := builder.LastResult(r.PathValue("plugin"))
		if !ok {
			http.Error(w, "no completed build for plugin", http.StatusNotFound)
			return
		}
		writeJSON(w, result)
	})
	mux.HandleFunc("GET /buildable", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, builder.ListBuildablePlugins())
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info("modhostd listening", "addr", cfg.Server.Addr, "version", version)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// buildErrorStatus maps builder rejections to HTTP statuses. Builder errors
// arrive wrapped with the plugin name, so matching goes through errors.Is.
func buildErrorStatus(err error) int {
	switch {
	case errors.Is(err, bundle.ErrUnknownPlugin):
		return http.StatusNotFound
	case errors.Is(err, bundle.ErrBuildInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// callerFrom derives the caller identity from request headers. System
// callers authenticate out of band; absent headers mean anonymous.
func callerFrom(r *http.Request) identity.Caller {
	if strings.EqualFold(r.Header.Get("X-Modhost-System"), "true") {
		return identity.System()
	}
	if id := r.Header.Get("X-Modhost-User"); id != "" {
		return identity.User(id)
	}
	return identity.Anonymous()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encoding response", "error", err)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return payload, nil
}
