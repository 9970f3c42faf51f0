package opshttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/metrics"
)

// test helpers

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts Options) (port int, stop func(context.Context) error) {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port, stop
}

var noKeepAlive = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

func opsGet(t *testing.T, port int, path string) *http.Response {
	t.Helper()
	addr := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := noKeepAlive.Get(addr)
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func serve(h http.Handler, remote, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, http.NoBody)
	req.RemoteAddr = remote
	h.ServeHTTP(rec, req)
	return rec
}

// Start - lifecycle

func TestStart_GracefulShutdownNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp := opsGet(t, port, "/-/healthy")
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthy = %d %q", resp.StatusCode, body)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if _, err := noKeepAlive.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_ShutdownBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{
		Port:            port,
		ShutdownTimeout: 100 * time.Millisecond,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	go noKeepAlive.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	err = stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stop took %v, want bounded by timeout", elapsed)
	}
}

func TestStart_PortConflict(t *testing.T) {
	port, _ := startOps(t, Options{})
	if _, err := Start(context.Background(), log.Nop(), Options{Port: port}); err == nil {
		t.Fatal("expected error for port conflict")
	}
}

// health

func TestStart_ReadyzFollowsShutdownGate(t *testing.T) {
	var gate ShutdownGate
	port, _ := startOps(t, Options{Readiness: gate.Probe()})

	resp := opsGet(t, port, "/-/ready")
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != "ready\n" {
		t.Fatalf("ready = %d %q", resp.StatusCode, body)
	}

	gate.Set("shutting down")
	resp = opsGet(t, port, "/-/ready")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("after drain: status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, "shutting down") {
		t.Fatalf("body = %q, want reason", body)
	}
}

func TestAll(t *testing.T) {
	ok := ProbeFunc(func(context.Context) error { return nil })
	bad := ProbeFunc(func(context.Context) error { return errors.New("authn config missing") })

	if err := All(ok, nil, ok).Check(context.Background()); err != nil {
		t.Fatalf("All(ok) = %v", err)
	}
	if err := All(ok, bad).Check(context.Background()); err == nil || err.Error() != "authn config missing" {
		t.Fatalf("All(ok, bad) = %v", err)
	}
}

func TestShutdownGate_DefaultReason(t *testing.T) {
	var gate ShutdownGate
	gate.Set("")
	if err := gate.Probe().Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("err = %v, want draining", err)
	}
}

// metrics

func TestNewHandler_MetricsFromRegistry(t *testing.T) {
	reg := metrics.New()
	reg.Metered("/rooms/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/rooms/1", nil))

	rec := serve(NewHandler(log.Nop(), Options{Metrics: reg.Handler()}), "127.0.0.1:5000", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `request_stats_total{method="GET",path="rooms_id",status_code="200"} 1`) &&
		!strings.Contains(rec.Body.String(), `request_stats{method="GET",path="rooms_id",status_code="200"} 1`) {
		t.Fatalf("request_stats sample missing:\n%s", rec.Body.String())
	}
}

func TestNewHandler_MetricsDefaultGatherer(t *testing.T) {
	rec := serve(NewHandler(log.Nop(), Options{}), "127.0.0.1:5000", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from default gatherer", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("default gatherer output missing go collector")
	}
}

// pprof

func TestNewHandler_Pprof(t *testing.T) {
	if rec := serve(NewHandler(log.Nop(), Options{EnablePprof: true}), "127.0.0.1:1", "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("enabled: status = %d, want 200", rec.Code)
	}
	if rec := serve(NewHandler(log.Nop(), Options{}), "127.0.0.1:1", "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled: status = %d, want 404", rec.Code)
	}
}

func TestNewHandler_RecoverMW(t *testing.T) {
	var panics int
	h := NewHandler(log.Nop(), Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("scrape") }),
	})
	if rec := serve(h, "127.0.0.1:1", "/metrics"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("panics = %d, want 1", panics)
	}
}

// requireNonPublicNetwork

func TestRequireNonPublicNetwork(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("allowed"))
	})
	h := requireNonPublicNetwork(log.Nop(), inner)

	tests := []struct {
		name   string
		remote string
		want   int
	}{
		{"loopback", "127.0.0.1:12345", http.StatusOK},
		{"ipv6 loopback", "[::1]:12345", http.StatusOK},
		{"private 10/8", "10.1.2.3:80", http.StatusOK},
		{"private 192.168/16", "192.168.1.10:80", http.StatusOK},
		{"link local", "169.254.1.1:80", http.StatusOK},
		{"public", "8.8.8.8:53", http.StatusForbidden},
		{"mapped public", "[::ffff:8.8.8.8]:53", http.StatusForbidden},
		{"mapped private", "[::ffff:10.0.0.1]:53", http.StatusOK},
		{"no port", "10.0.0.1", http.StatusForbidden},
		{"empty", "", http.StatusForbidden},
		{"not an ip", "example.com:80", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(h, tt.remote, "/metrics"); rec.Code != tt.want {
				t.Fatalf("%s: status = %d, want %d", tt.remote, rec.Code, tt.want)
			}
		})
	}
}
