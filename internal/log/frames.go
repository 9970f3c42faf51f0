package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

const maxStackDepth = 64

type hasPC interface{ PC() uintptr }

type hasStack interface{ StackPCs() []uintptr }

func loggingFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") || strings.Contains(fn, "/internal/log.")
}

func callSite() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	return pcs[:n]
}

// renderStack formats pcs as "func\n\tfile:line" lines. Leading logging
// frames are dropped and the walk stops at the runtime.
func renderStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	var b strings.Builder
	started := false
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		started = started || !loggingFrame(fr.Function)
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// origin is where e was created or wrapped, skipping xerrors itself.
func origin(e error) (fn, file string, line int, ok bool) {
	switch x := e.(type) {
	case hasPC:
		if x.PC() == 0 {
			return "", "", 0, false
		}
		fr, _ := runtime.CallersFrames([]uintptr{x.PC()}).Next()
		return fr.Function, fr.File, fr.Line, true
	case hasStack:
		frames := runtime.CallersFrames(x.StackPCs())
		for {
			fr, more := frames.Next()
			if fr.Function != "" && !strings.HasPrefix(fr.Function, "runtime.") &&
				!loggingFrame(fr.Function) && !strings.Contains(fr.Function, "/internal/xerrors.") {
				return fr.Function, fr.File, fr.Line, true
			}
			if !more {
				return "", "", 0, false
			}
		}
	}
	return "", "", 0, false
}

// errorFields are the attributes Error adds for err.
func errorFields(err error, links int) []any {
	surface, root := typeNames(err)
	kv := []any{"err", err, "error_type", surface, "cause_type", root}
	if chain := messages(err); len(chain) > 1 {
		kv = append(kv, "error_chain", chain)
	}
	if links > 0 {
		kv = append(kv, "error_links", errorLinks(err, links))
	}
	return kv
}

// typeNames returns the first non-wrapper type in the chain and the last.
func typeNames(err error) (surface, root string) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if surface == "" && !wrapper(e) {
			surface = fmt.Sprintf("%T", e)
		}
		root = fmt.Sprintf("%T", e)
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, root
}

func wrapper(e error) bool {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if strings.HasSuffix(t.PkgPath(), "/internal/xerrors") {
		return true
	}
	return t.PkgPath() == "fmt" && strings.HasPrefix(t.Name(), "wrapError")
}

// messages lists each distinct message down the chain, then the members
// of a joined error.
func messages(err error) []string {
	var out []string
	add := func(m string) {
		if len(out) == 0 || out[len(out)-1] != m {
			out = append(out, m)
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

func errorLinks(err error, max int) []map[string]any {
	var out []map[string]any
	depth := 0
	for e := err; e != nil && depth < max; e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := origin(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if ok || depth == 0 {
			out = append(out, link)
		}
		depth++
	}
	return out
}
