package httpmw

import (
	"net/http"
)

// Chain applies middlewares so that the first middleware in the
// list is the outermost, and the last is innermost, wrapping h.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	wrapped := h

	// Apply in reverse: last mw in the slice wraps the handler first.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}

	return wrapped
}

// Stack is an ordered interceptor list that can be extended per route
// without touching the shared base. The first entry is outermost.
type Stack []func(http.Handler) http.Handler

// With returns a new Stack with mws appended inside the existing entries.
func (s Stack) With(mws ...func(http.Handler) http.Handler) Stack {
	out := make(Stack, 0, len(s)+len(mws))
	out = append(out, s...)
	return append(out, mws...)
}

// Then wraps h with every entry of the stack.
func (s Stack) Then(h http.Handler) http.Handler {
	return Chain(h, s...)
}

// ThenFunc is Then for a plain handler function.
func (s Stack) ThenFunc(fn http.HandlerFunc) http.Handler {
	return Chain(fn, s...)
}
