package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keithlinneman/svcmw/internal/log"
)

// methods is the metered method universe. Anything else passes through
// unobserved.
var methods = [...]string{
	http.MethodPut,
	http.MethodPost,
	http.MethodOptions,
	http.MethodGet,
	http.MethodPatch,
	http.MethodHead,
}

const (
	numMethods = len(methods)
	minStatus  = 100
	maxStatus  = 600
	numStatus  = maxStatus - minStatus
)

func methodIndex(m string) (int, bool) {
	switch m {
	case http.MethodPut:
		return 0, true
	case http.MethodPost:
		return 1, true
	case http.MethodOptions:
		return 2, true
	case http.MethodGet:
		return 3, true
	case http.MethodPatch:
		return 4, true
	case http.MethodHead:
		return 5, true
	}
	return 0, false
}

func statusIndex(code int) (int, bool) {
	if code < minStatus || code >= maxStatus {
		return 0, false
	}
	return code - minStatus, true
}

// handles creates the labelled children behind each memo cell.
type handles interface {
	durationObserver(path, method string) (prometheus.Observer, error)
	bodySizeObserver(path, method string) (prometheus.Observer, error)
	statusCounter(path, method string, status int) (prometheus.Counter, error)
}

// Route is the per-route instrumentation. All cells are allocated up front;
// the underlying prometheus children are created on first use.
type Route struct {
	path string
	h    handles

	durations [numMethods]cell[prometheus.Observer]
	sizes     [numMethods]cell[prometheus.Observer]
	stats     []cell[prometheus.Counter]
}

func newRoute(path string, h handles) *Route {
	return &Route{
		path:  path,
		h:     h,
		stats: make([]cell[prometheus.Counter], numMethods*numStatus),
	}
}

// Path is the normalised route label.
func (rt *Route) Path() string { return rt.path }

func (rt *Route) duration(ctx context.Context, mi int) prometheus.Observer {
	obs, err := rt.durations[mi].get(func() (prometheus.Observer, error) {
		return rt.h.durationObserver(rt.path, methods[mi])
	})
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "create metric handle failed",
			"metric", DurationName, "path", rt.path, "method", methods[mi])
		return nil
	}
	return obs
}

func (rt *Route) bodySize(ctx context.Context, mi int) prometheus.Observer {
	obs, err := rt.sizes[mi].get(func() (prometheus.Observer, error) {
		return rt.h.bodySizeObserver(rt.path, methods[mi])
	})
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "create metric handle failed",
			"metric", BodySizeName, "path", rt.path, "method", methods[mi])
		return nil
	}
	return obs
}

func (rt *Route) status(ctx context.Context, mi, code int) prometheus.Counter {
	si, ok := statusIndex(code)
	if !ok {
		log.FromContext(ctx).Debug(ctx, "status outside metered range, skipping",
			"path", rt.path, "method", methods[mi], "status", code)
		return nil
	}
	c, err := rt.stats[mi*numStatus+si].get(func() (prometheus.Counter, error) {
		return rt.h.statusCounter(rt.path, methods[mi], code)
	})
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "create metric handle failed",
			"metric", StatsName, "path", rt.path, "method", methods[mi], "status_code", code)
		return nil
	}
	return c
}

// RouteLabel turns a route pattern into a metric label: the leading slash is
// dropped, ':', '{', '}' and '*' are removed, remaining slashes become '_'.
// "/rooms/:id" and "/rooms/{id}" both yield "rooms_id".
func RouteLabel(pattern string) string {
	p := strings.TrimPrefix(pattern, "/")
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		switch r {
		case ':', '{', '}', '*':
		case '/':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
