package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// helpers

func newJSONLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

// identity

func TestLogger_IdentityFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{App: "svcmw", Component: "server", Version: "1.2.3"})

	l.Info(context.Background(), "listening", "port", 8080)

	m := lastRecord(t, &buf)
	want := map[string]any{"app": "svcmw", "component": "server", "version": "1.2.3", "msg": "listening", "port": float64(8080)}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
	if _, ok := m["source"]; !ok {
		t.Error("source missing")
	}
}

func TestLogger_OmitsEmptyIdentity(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(t, &buf, Options{App: "svcmw"}).Info(context.Background(), "x")

	m := lastRecord(t, &buf)
	for _, k := range []string{"component", "version"} {
		if _, ok := m[k]; ok {
			t.Errorf("%s should be omitted when empty", k)
		}
	}
}

func TestLogger_SourceIsCaller(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(t, &buf, Options{}).Warn(context.Background(), "x")

	src, _ := lastRecord(t, &buf)["source"].(map[string]any)
	if fn, _ := src["function"].(string); !strings.HasSuffix(fn, "TestLogger_SourceIsCaller") {
		t.Fatalf("source function = %v, want the test", src["function"])
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "svcmw", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info(context.Background(), "hello", "account_id", "u1.example.org")
	if out := buf.String(); !strings.Contains(out, "msg=hello") || !strings.Contains(out, "account_id=u1.example.org") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("records below Warn were written: %s", buf.String())
	}
	l.Warn(ctx, "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("Warn should be written")
	}
}

func TestLogger_WithIsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newJSONLogger(t, &buf, Options{})
	a := base.With("account_id", "a.example.org")
	b := base.With("account_id", "b.example.org", 42, "dropped", "odd")

	a.Info(context.Background(), "x")
	if got := lastRecord(t, &buf)["account_id"]; got != "a.example.org" {
		t.Fatalf("a: account_id = %v", got)
	}
	b.Info(context.Background(), "x")
	m := lastRecord(t, &buf)
	if m["account_id"] != "b.example.org" {
		t.Fatalf("b: account_id = %v", m["account_id"])
	}
	if _, ok := m["odd"]; ok {
		t.Fatal("trailing key without value should be dropped")
	}
	base.Info(context.Background(), "x")
	if _, ok := lastRecord(t, &buf)["account_id"]; ok {
		t.Fatal("base logger picked up a derived field")
	}
}

// trace

func TestLogger_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != sc.TraceID().String() || m["span_id"] != sc.SpanID().String() {
		t.Fatalf("trace fields = %v/%v", m["trace_id"], m["span_id"])
	}

	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Fatal("trace_id without a span")
	}
}

// errors and stacks

func TestLogger_ErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{})
	errNoConfig := errors.New("no verification config")

	l.Error(context.Background(), xerrors.Wrap(xerrors.WithStack(errNoConfig), "resolve account"),
		"verification config missing from request context", "alert", "operator")

	m := lastRecord(t, &buf)
	if m["level"] != "ERROR" || m["alert"] != "operator" {
		t.Fatalf("level/alert = %v/%v", m["level"], m["alert"])
	}
	if m["err"] != "resolve account: no verification config" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["error_type"] != "*errors.errorString" || m["cause_type"] != "*errors.errorString" {
		t.Fatalf("types = %v/%v", m["error_type"], m["cause_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 || chain[1] != "no verification config" {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if _, ok := m["error_links"]; ok {
		t.Fatal("error_links should be off by default")
	}
}

func TestLogger_ErrorLinks(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{IncludeErrorLinks: true, MaxErrorLinks: 2})

	err := xerrors.Wrap(xerrors.Wrap(xerrors.New("bad signature"), "verify"), "resolve")
	l.Error(context.Background(), err, "rejected")

	links, _ := lastRecord(t, &buf)["error_links"].([]any)
	if len(links) != 2 {
		t.Fatalf("error_links = %v, want 2 entries", links)
	}
	first, _ := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.HasSuffix(fn, "TestLogger_ErrorLinks") {
		t.Fatalf("first link func = %v", first["func"])
	}
}

func TestLogger_StackAtStacktraceLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{StacktraceLevel: slog.LevelWarn})
	ctx := context.Background()

	l.Info(ctx, "below")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("stack below the stacktrace level")
	}

	l.Warn(ctx, "at")
	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.HasPrefix(stack, "github.com/keithlinneman/svcmw/internal/log.TestLogger_StackAtStacktraceLevel") {
		t.Fatalf("stack should start at the caller:\n%s", stack)
	}
}

func TestLogger_StackFromError(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{})

	l.Error(context.Background(), originError(), "failed")

	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "originError") {
		t.Fatalf("stack should come from the error:\n%s", stack)
	}
}

func originError() error { return xerrors.New("boom") }

func TestLogger_DefaultStacktraceLevelIsError(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{})
	l.Warn(context.Background(), "w")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("Warn should not carry a stack by default")
	}
	l.Error(context.Background(), nil, "e")
	if _, ok := lastRecord(t, &buf)["stack"]; !ok {
		t.Fatal("Error should carry a stack by default")
	}
}

// redaction

func TestLogger_RedactsCredentialKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{}).With("Authorization", "Bearer abc.def.ghi")

	l.Warn(context.Background(), "token verification failed", "access_token", "abc.def.ghi", "source", "query")

	if strings.Contains(buf.String(), "abc.def.ghi") {
		t.Fatalf("credential leaked: %s", buf.String())
	}
	m := lastRecord(t, &buf)
	if m["Authorization"] != Redacted || m["access_token"] != Redacted {
		t.Fatalf("redacted fields = %v/%v", m["Authorization"], m["access_token"])
	}
	if m["source"] != "query" {
		t.Fatalf("unrelated field changed: %v", m["source"])
	}
}

func TestLogger_CustomRedactKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, Options{RedactKeys: []string{"api_key"}})
	l.Info(context.Background(), "x", "api_key", "k", "token", "t")

	m := lastRecord(t, &buf)
	if m["api_key"] != Redacted || m["token"] != "t" {
		t.Fatalf("api_key/token = %v/%v", m["api_key"], m["token"])
	}
}

func TestRedactHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newRedactHandler(slog.NewJSONHandler(&buf, nil), DefaultRedactKeys)
	slog.New(h).With("token", "secret").Info("x")
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("WithAttrs leaked: %s", buf.String())
	}
}

// helpers of frames.go

func TestTypeNames_SkipsWrappers(t *testing.T) {
	type verifyError struct{ error }
	err := fmt.Errorf("outer: %w", xerrors.Wrap(&verifyError{errors.New("expired")}, "verify"))

	surface, root := typeNames(err)
	if surface != "*log.verifyError" {
		t.Fatalf("surface = %q", surface)
	}
	if root != "*log.verifyError" {
		t.Fatalf("root = %q", root)
	}
}

func TestMessages_Joined(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	got := messages(err)
	if len(got) != 3 || got[1] != "a" || got[2] != "b" {
		t.Fatalf("messages = %q", got)
	}
}

func TestRenderStack_Empty(t *testing.T) {
	if s := renderStack(nil); s != "" {
		t.Fatalf("renderStack(nil) = %q", s)
	}
}
