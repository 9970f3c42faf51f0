// Package log is the structured logger shared by every component. Records
// carry the service identity, the active trace and, at or above the
// stacktrace level, a stack. Credential-bearing keys are redacted.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App       string
	Component string
	Version   string

	Level slog.Level
	// StacktraceLevel adds a stack to records at or above it. The zero
	// value means slog.LevelError.
	StacktraceLevel slog.Level
	JsonFormat      bool

	// IncludeErrorLinks adds up to MaxErrorLinks call sites of the error
	// chain to Error records (default 8).
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// RedactKeys are attribute keys whose values are replaced with
	// Redacted. nil means DefaultRedactKeys.
	RedactKeys []string

	Writer io.Writer
}

// DefaultRedactKeys covers the keys credentials travel under.
var DefaultRedactKeys = []string{"authorization", "access_token", "token"}

// New builds the slog backed Logger.
func New(opts Options) (Logger, error) { return newSlog(opts) }

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}
