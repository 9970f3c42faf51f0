// Package tracectx carries a mutable, request-scoped annotation record
// through the handler chain.
//
// The record is attached once near the top of the chain (see
// httpmw.AccessLog) and passed by reference in the request context, so
// fields recorded by inner handlers are visible to outer ones after the
// inner handler returns. Identity resolution records two fields into it:
// FieldAccountID and FieldAgentID.
package tracectx

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Well-known field names written by identity resolution.
const (
	FieldAccountID = "account_id"
	FieldAgentID   = "agent_id"
)

// Fields is a concurrency-safe string map owned by a single request.
type Fields struct {
	mu sync.Mutex
	m  map[string]string
}

type fieldsKey struct{}

// Attach returns a context carrying a fresh record. If ctx already carries
// one it is reused so nested middleware share a single record.
func Attach(ctx context.Context) (context.Context, *Fields) {
	if f := FromContext(ctx); f != nil {
		return ctx, f
	}
	f := &Fields{m: make(map[string]string, 4)}
	return context.WithValue(ctx, fieldsKey{}, f), f
}

// FromContext returns the record attached to ctx, or nil.
func FromContext(ctx context.Context) *Fields {
	f, _ := ctx.Value(fieldsKey{}).(*Fields)
	return f
}

// Record writes key=value into the record attached to ctx (if any) and onto
// the active span when it is recording.
func Record(ctx context.Context, key, value string) {
	FromContext(ctx).Set(key, value)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String(key, value))
	}
}

// Set is a no-op on a nil record.
func (f *Fields) Set(key, value string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.m[key] = value
	f.mu.Unlock()
}

// Get returns the value recorded under key.
func (f *Fields) Get(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	return v, ok
}

// KV flattens the record into sorted key/value pairs for log calls.
func (f *Fields) KV() []any {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	keys := make([]string, 0, len(f.m))
	for k := range f.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, f.m[k])
	}
	f.mu.Unlock()
	return out
}
