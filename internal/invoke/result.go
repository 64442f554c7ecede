package invoke

// Kind classifies the outcome of a plugin invocation. Every failure inside
// plugin code maps onto exactly one of these; callers never see a raw fault.
type Kind int

const (
	// KindOk is a successful invocation.
	KindOk Kind = iota
	// KindNotImplemented means the resolved target does not export the
	// requested function at the requested arity.
	KindNotImplemented
	// KindNotFound means no plugin with that name is known anywhere.
	KindNotFound
	// KindMissingHooksModule means the plugin is known but has no usable
	// implementation handle.
	KindMissingHooksModule
	// KindTimeout means execution exceeded the configured bound.
	KindTimeout
	// KindOther covers exceptions, crashes, and malformed returns inside
	// plugin code; Detail carries the diagnostic.
	KindOther
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindNotImplemented:
		return "not_implemented"
	case KindNotFound:
		return "not_found"
	case KindMissingHooksModule:
		return "missing_hooks_module"
	case KindTimeout:
		return "timeout"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Code returns the caller-visible error code for the public RPC surface.
func (k Kind) Code() string {
	if k == KindNotFound {
		return "plugin_not_found"
	}
	return k.String()
}

// Result is the tagged outcome of an invocation.
type Result struct {
	Kind   Kind
	Value  any
	Detail string
}

// Ok wraps a successful value.
func Ok(v any) Result {
	return Result{Kind: KindOk, Value: v}
}

// Fail wraps a failure kind with diagnostic detail.
func Fail(kind Kind, detail string) Result {
	return Result{Kind: kind, Detail: detail}
}

// IsOk reports whether the invocation succeeded.
func (r Result) IsOk() bool {
	return r.Kind == KindOk
}
