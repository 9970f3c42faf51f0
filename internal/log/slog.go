package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// slogLogger feeds records through the handler chain built in newSlog.
// attrs is never appended to in place, so derived loggers can be shared.
type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
	// links is the error_links depth; 0 leaves them out.
	links int
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}

	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}

	redact := opts.RedactKeys
	if redact == nil {
		redact = DefaultRedactKeys
	}
	stackAt := opts.StacktraceLevel
	if stackAt == 0 {
		stackAt = slog.LevelError
	}

	// outermost runs first: stack, then trace ids, then redaction
	h = newRedactHandler(h, redact)
	h = traceHandler{next: h}
	h = stackHandler{next: h, level: stackAt}

	links := 0
	if opts.IncludeErrorLinks {
		links = opts.MaxErrorLinks
		if links <= 0 {
			links = 8
		}
	}
	return &slogLogger{h: h, attrs: identityAttrs(opts), links: links}, nil
}

func identityAttrs(opts Options) []slog.Attr {
	attrs := []slog.Attr{slog.String("app", opts.App)}
	if opts.Component != "" {
		attrs = append(attrs, slog.String("component", opts.Component))
	}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}
	return attrs
}

func (s *slogLogger) With(kv ...any) Logger {
	add := kvAttrs(kv)
	next := make([]slog.Attr, 0, len(s.attrs)+len(add))
	next = append(append(next, s.attrs...), add...)
	return &slogLogger{h: s.h, attrs: next, links: s.links}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

// Error adds err with its type names and message chain. With links
// enabled it also adds the call site of every traced error in the chain.
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, errorFields(err, s.links)...)
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// runtime.Callers, emit, Debug/Info/Warn/Error
	var pc [1]uintptr
	runtime.Callers(3, pc[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pc[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(kvAttrs(kv)...)
	_ = s.h.Handle(ctx, r)
}

// kvAttrs pairs up kv. Non-string keys and a trailing odd value are dropped.
func kvAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}
