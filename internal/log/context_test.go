package log

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFromContext_FallsBackToNop(t *testing.T) {
	tests := map[string]context.Context{
		"empty":      context.Background(),
		"nil logger": context.WithValue(context.Background(), ctxKey{}, nil),
		"wrong type": context.WithValue(context.Background(), ctxKey{}, "not a logger"),
	}
	for name, ctx := range tests {
		t.Run(name, func(t *testing.T) {
			l := FromContext(ctx)
			if _, ok := l.(nopLogger); !ok {
				t.Fatalf("FromContext = %T, want nopLogger", l)
			}
			l.With("k", "v").Error(ctx, errors.New("x"), "discarded")
			if err := l.Sync(); err != nil {
				t.Fatalf("Sync: %v", err)
			}
		})
	}
}

func TestWithContext_ChildOnly(t *testing.T) {
	l := &nopLogger{}
	parent := context.Background()
	child := WithContext(parent, l)

	if FromContext(child) != l {
		t.Fatal("child should return the stored logger")
	}
	if FromContext(parent) == l {
		t.Fatal("parent should not see the child's logger")
	}
}

func TestWith_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "test", Writer: &buf, JsonFormat: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := With(WithContext(context.Background(), l), "account_id", "u1.example.org")

	FromContext(ctx).Info(ctx, "resolved")

	if !strings.Contains(buf.String(), `"account_id":"u1.example.org"`) {
		t.Fatalf("log line missing account_id: %s", buf.String())
	}
}

func TestWith_NoFieldsReturnsSameContext(t *testing.T) {
	ctx := WithContext(context.Background(), Nop())
	if With(ctx) != ctx {
		t.Fatal("With without fields should return ctx unchanged")
	}
}
