// Package invoke resolves and executes plugin RPC functions inside a
// bounded isolation unit, translating every failure mode into a fixed
// error taxonomy.
package invoke

import (
	"context"
	"log/slog"
	"time"

	"modhost/internal/dynamic"
	"modhost/internal/identity"
	"modhost/internal/metrics"
	"modhost/internal/registry"
)

// StaticSource resolves compiled plugins. Implemented by *registry.Registry.
type StaticSource interface {
	Lookup(name string) (registry.Handle, registry.LookupResult)
}

// DynamicSource resolves runtime-registered exports. Implemented by
// *dynamic.Registry.
type DynamicSource interface {
	Lookup(pluginName, hookName string) (dynamic.Export, bool)
	HasPlugin(pluginName string) bool
}

// Invoker executes named plugin RPC functions.
type Invoker struct {
	static  StaticSource
	dyn     DynamicSource
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTimeout sets the per-invocation wall-clock bound.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// WithLogger sets the invoker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Invoker) {
		i.log = log
	}
}

// WithMetrics sets the invoker's metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// DefaultTimeout bounds an invocation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// NewInvoker creates an Invoker over the given sources.
func NewInvoker(static StaticSource, dyn DynamicSource, opts ...Option) *Invoker {
	i := &Invoker{
		static:  static,
		dyn:     dyn,
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Timeout returns the configured invocation bound.
func (i *Invoker) Timeout() time.Duration {
	return i.timeout
}

// CallRPC resolves plugin/fn against the static catalogue first (keyed by
// name and arity), falls back to the dynamic catalogue (keyed by name), and
// executes the match under the invocation bound.
//
// Outcomes when nothing matches: the plugin name unknown to both catalogues
// is KindNotFound; a known plugin with no usable handle is
// KindMissingHooksModule; a known plugin that simply lacks the function at
// the requested arity is KindNotImplemented.
func (i *Invoker) CallRPC(ctx context.Context, pluginName, fn string, args []any, caller identity.Caller) Result {
	start := time.Now()

	handle, lookup := i.static.Lookup(pluginName)
	if lookup == registry.LookupOk && handle.Has(fn, len(args)) {
		res := Run(ctx, i.timeout, func() (any, error) {
			return handle.Invoke(fn, args, caller)
		})
		i.finish("rpc", pluginName, fn, res, start)
		return res
	}

	if export, ok := i.dyn.Lookup(pluginName, fn); ok {
		res := Run(ctx, i.timeout, func() (any, error) {
			return export.Handler(ctx, args, caller)
		})
		i.finish("rpc", pluginName, fn, res, start)
		return res
	}

	var res Result
	switch {
	case lookup == registry.LookupBroken:
		res = Fail(KindMissingHooksModule, pluginName+" has no usable implementation")
	case lookup == registry.LookupOk || i.dyn.HasPlugin(pluginName):
		res = Fail(KindNotImplemented, fn+" is not exported")
	default:
		res = Fail(KindNotFound, "unknown plugin "+pluginName)
	}
	i.finish("rpc", pluginName, fn, res, start)
	return res
}

func (i *Invoker) finish(kind, pluginName, fn string, res Result, start time.Time) {
	elapsed := time.Since(start)
	i.metrics.ObserveInvocation(kind, res.Kind.String(), elapsed)
	if !res.IsOk() {
		i.log.Debug("invocation failed",
			"kind", kind, "plugin", pluginName, "fn", fn,
			"outcome", res.Kind.String(), "detail", res.Detail,
			"elapsed", elapsed)
	}
}
