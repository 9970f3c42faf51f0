package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keithlinneman/svcmw/internal/authn"
	"github.com/keithlinneman/svcmw/internal/httpmw"
	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/metrics"
	"github.com/keithlinneman/svcmw/internal/ratelimit"
)

// demo holds the application state behind the public routes.
type demo struct {
	reg      *metrics.Registry
	res      *authn.Resolver
	requests prometheus.Counter
	level    prometheus.Gauge

	// limit runs after authentication; nil disables it
	limit func(http.Handler) http.Handler
}

func newDemo(reg *metrics.Registry, res *authn.Resolver) (*demo, error) {
	d := &demo{
		reg: reg,
		res: res,
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_requests_counter",
			Help: "Number of requests processed by the server",
		}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "requests_gauge",
			Help: "Number of /inc requests minus number of /dec requests",
		}),
	}
	if err := reg.Register(d.requests, d.level); err != nil {
		return nil, err
	}
	return d, nil
}

// rateLimit limits authenticated routes per account.
func (d *demo) rateLimit(l *ratelimit.Limiter) {
	d.limit = l.Middleware(accountKey)
}

func accountKey(r *http.Request) (string, bool) {
	id, ok := authn.AccountFromContext(r.Context())
	return id.String(), ok
}

// routes is passed to httpserver.Options.Routes. Metering wraps
// authentication so rejected requests are still counted.
func (d *demo) routes(r chi.Router) {
	d.reg.MeteredMethod(r, http.MethodGet, "/", http.HandlerFunc(d.root))
	d.reg.MeteredMethod(r, http.MethodGet, "/inc", http.HandlerFunc(d.inc))
	d.reg.MeteredMethod(r, http.MethodGet, "/dec", http.HandlerFunc(d.dec))

	account := httpmw.Stack{authn.Middleware(d.res)}
	agent := httpmw.Stack{authn.AgentMiddleware(d.res)}
	if d.limit != nil {
		account = account.With(d.limit)
		agent = agent.With(d.limit)
	}
	d.reg.MeteredMethod(r, http.MethodGet, "/me", account.ThenFunc(d.me))
	d.reg.MeteredMethod(r, http.MethodGet, "/rooms/{id}", agent.ThenFunc(d.room))
}

func (d *demo) root(w http.ResponseWriter, r *http.Request) {
	d.requests.Inc()
	writeText(w, "Hello world\n")
}

func (d *demo) inc(w http.ResponseWriter, r *http.Request) {
	d.requests.Inc()
	d.level.Inc()
	writeText(w, "Increased!\n")
}

func (d *demo) dec(w http.ResponseWriter, r *http.Request) {
	d.requests.Inc()
	d.level.Dec()
	writeText(w, "Decreased!\n")
}

type meResponse struct {
	AccountID string `json:"account_id"`
}

func (d *demo) me(w http.ResponseWriter, r *http.Request) {
	id, _ := authn.AccountFromContext(r.Context())
	writeJSON(w, r, meResponse{AccountID: id.String()})
}

type roomResponse struct {
	RoomID    string `json:"room_id"`
	AgentID   string `json:"agent_id"`
	AccountID string `json:"account_id"`
}

func (d *demo) room(w http.ResponseWriter, r *http.Request) {
	agent, _ := authn.AgentFromContext(r.Context())
	writeJSON(w, r, roomResponse{
		RoomID:    chi.URLParam(r, "id"),
		AgentID:   agent.String(),
		AccountID: agent.Account.String(),
	})
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "encode response")
	}
}
