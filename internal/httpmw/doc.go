// Package httpmw provides the request interceptors shared by every route.
//
// httpserver.NewHandler composes them outermost first: request ID,
// request logger, access log (which attaches the tracectx record), panic
// recovery, CORS, body limit, authn config injection, then the chi router
// with route annotation. Per-route interceptors (metrics, identity) are
// added on the routes themselves, usually through a Stack.
//
// Request headers and bodies are never copied into log fields; only the
// path, query, method, status and the tracectx annotations are logged.
package httpmw
