// Package gateway is the public RPC entry point consumed by the API layer.
// It enforces the pre-resolution policy every public caller must apply:
// legacy module:function addressing and reserved lifecycle-hook names are
// rejected here and never reach the invoker.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"modhost/internal/hook"
	"modhost/internal/identity"
	"modhost/internal/invoke"
)

// Policy rejection codes. These are distinct from the invoker's taxonomy;
// calls carrying them are refused before resolution.
const (
	CodeLegacyFnFormat   = "legacy_fn_format_not_supported"
	CodeReservedHookName = "reserved_hook_name"
	CodeInvalidRequest   = "invalid_request"
)

// maxDetailLen caps the stringified detail surfaced for unclassified plugin
// failures. Operators get the head of the diagnostic, never a stack trace.
const maxDetailLen = 256

// Response is the caller-visible outcome of a public RPC call.
type Response struct {
	OK    bool
	Code  string
	Value any
}

// Gateway fronts the RPC invoker for external callers.
type Gateway struct {
	invoker *invoke.Invoker
	log     *slog.Logger
}

// New creates a Gateway over the given invoker.
func New(invoker *invoke.Invoker, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{invoker: invoker, log: log}
}

// Call applies the pre-resolution policy, then delegates to the invoker and
// maps its result onto caller-visible codes.
func (g *Gateway) Call(ctx context.Context, pluginName, fn string, args []any, caller identity.Caller) Response {
	if strings.Contains(fn, ":") {
		return Response{Code: CodeLegacyFnFormat}
	}
	if hook.IsReserved(fn) {
		g.log.Debug("rejected reserved hook name", "fn", fn, "plugin", pluginName)
		return Response{Code: CodeReservedHookName}
	}

	res := g.invoker.CallRPC(ctx, pluginName, fn, args, caller)
	if res.IsOk() {
		return Response{OK: true, Value: res.Value}
	}

	code := res.Kind.Code()
	if res.Kind == invoke.KindOther {
		code = truncate(res.Detail, maxDetailLen)
	}
	return Response{Code: code}
}

// HandleJSON decodes a {"plugin": ..., "fn": ..., "args": [...]} payload,
// performs the call, and encodes the response envelope:
// {"ok": true, "result": ...} or {"ok": false, "error": code}.
func (g *Gateway) HandleJSON(ctx context.Context, payload []byte, caller identity.Caller) []byte {
	if !gjson.ValidBytes(payload) {
		return errorEnvelope(CodeInvalidRequest)
	}

	pluginName := gjson.GetBytes(payload, "plugin")
	fn := gjson.GetBytes(payload, "fn")
	if pluginName.Type != gjson.String || fn.Type != gjson.String {
		return errorEnvelope(CodeInvalidRequest)
	}

	var args []any
	argsField := gjson.GetBytes(payload, "args")
	if argsField.Exists() {
		if !argsField.IsArray() {
			return errorEnvelope(CodeInvalidRequest)
		}
		for _, item := range argsField.Array() {
			args = append(args, item.Value())
		}
	}

	resp := g.Call(ctx, pluginName.String(), fn.String(), args, caller)
	if !resp.OK {
		return errorEnvelope(resp.Code)
	}

	out := []byte(`{"ok":true}`)
	out, err := sjson.SetBytes(out, "result", resp.Value)
	if err != nil {
		g.log.Error("encode rpc result", "error", err)
		return errorEnvelope("result_encoding_failed")
	}
	return out
}

func errorEnvelope(code string) []byte {
	out := []byte(`{"ok":false}`)
	out, _ = sjson.SetBytes(out, "error", code)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
