// Package hook dispatches lifecycle events to loaded plugins. It is
// consumed by internal business logic only; every call site supplies its
// own fallback for the "no plugin implements this hook" case.
package hook

import (
	"context"
	"log/slog"
	"time"

	"modhost/internal/identity"
	"modhost/internal/invoke"
	"modhost/internal/metrics"
	"modhost/internal/registry"
)

// Modules supplies the loaded hook modules. Implemented by
// *registry.Registry.
type Modules interface {
	HookModules() []registry.HookModule
}

// Dispatcher locates and invokes hook implementations across loaded
// plugins. Calls are bounded and isolated exactly like RPC calls: a hanging
// after_* hook cannot stall the triggering request past the bound.
type Dispatcher struct {
	modules Modules
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-dispatch wall-clock bound.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		dp.timeout = d
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(dp *Dispatcher) {
		dp.log = log
	}
}

// WithMetrics sets the dispatcher's metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(dp *Dispatcher) {
		dp.metrics = m
	}
}

// NewDispatcher creates a Dispatcher over the given module source.
func NewDispatcher(modules Modules, opts ...Option) *Dispatcher {
	dp := &Dispatcher{
		modules: modules,
		timeout: invoke.DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(dp)
	}
	return dp
}

// Dispatch invokes the first loaded plugin implementing hookName, in plugin
// name order. The caller identity is appended to the plugin's arguments as
// a {user_id, system} table. When no plugin implements the hook the result
// is KindNotImplemented and the call site applies its own default.
//
// Each call moves Resolving -> Invoking -> Completed/Failed/TimedOut with
// no retries; a failure is reported once.
func (dp *Dispatcher) Dispatch(ctx context.Context, hookName string, args []any, caller identity.Caller) invoke.Result {
	start := time.Now()

	var target registry.HookModule
	found := false
	for _, mod := range dp.modules.HookModules() {
		if mod.Handle.HasHook(hookName) {
			target = mod
			found = true
			break
		}
	}
	if !found {
		res := invoke.Fail(invoke.KindNotImplemented, "no plugin implements "+hookName)
		dp.metrics.ObserveInvocation("hook", res.Kind.String(), time.Since(start))
		return res
	}

	callArgs := append(append([]any(nil), args...), callerArg(caller))
	res := invoke.Run(ctx, dp.timeout, func() (any, error) {
		return target.Handle.Invoke(hookName, callArgs, caller)
	})

	dp.metrics.ObserveInvocation("hook", res.Kind.String(), time.Since(start))
	if !res.IsOk() && res.Kind != invoke.KindNotImplemented {
		dp.log.Warn("hook dispatch failed",
			"hook", hookName, "plugin", target.Name,
			"outcome", res.Kind.String(), "detail", res.Detail)
	}
	return res
}

// Decision interprets a before_* hook result as an allow/deny decision.
// An unimplemented, failed, or timed-out hook yields def; a boolean result
// is the decision itself; a table with an "allow" field uses that field;
// any other successful result allows.
func Decision(res invoke.Result, def bool) bool {
	if !res.IsOk() {
		return def
	}
	switch v := res.Value.(type) {
	case bool:
		return v
	case map[string]any:
		if allow, ok := v["allow"].(bool); ok {
			return allow
		}
		return true
	default:
		return true
	}
}

func callerArg(caller identity.Caller) map[string]any {
	return map[string]any{
		"user_id": caller.UserID,
		"system":  caller.System,
	}
}
