package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/svcmw/internal/authn"
	"github.com/keithlinneman/svcmw/internal/cfg"
	"github.com/keithlinneman/svcmw/internal/httpmw"
	"github.com/keithlinneman/svcmw/internal/httpserver"
	"github.com/keithlinneman/svcmw/internal/jws"
	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/metrics"
	"github.com/keithlinneman/svcmw/internal/opshttp"
	"github.com/keithlinneman/svcmw/internal/otelx"
	"github.com/keithlinneman/svcmw/internal/prof"
	"github.com/keithlinneman/svcmw/internal/ratelimit"
	v "github.com/keithlinneman/svcmw/internal/version"
	"github.com/keithlinneman/svcmw/internal/xerrors"
)

const component = "server"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix SVCMW_
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	L, err := log.New(log.Options{
		App:               v.AppName,
		Component:         component,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer L.Sync()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"authn_config", conf.AuthnConfigPath,
		"authn_ssm_param", conf.AuthnSSMParam,
		"require_agent_label", conf.RequireAgentLabel,
		"agent_label", conf.AgentLabel,
		"anonymous_audience", conf.AnonymousAudience,
		"body_limit", conf.BodyLimit,
		"rate_limit", conf.RateLimit,
		"rate_burst", conf.RateBurst,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		Component:     component,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":      v.AppName,
			"version":  vi.Version,
			"commit":   vi.Commit,
			"build_id": vi.BuildId,
			"source":   "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Token verification config is loaded once and never mutated
	authnCfg, source, err := loadAuthnConfig(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to load verification config")
		os.Exit(1)
	}
	L.Info(ctx, "loaded verification config", "source", source, "issuers", authnCfg.Issuers())

	reg := metrics.New()
	reg.SetBuildInfoFromVersion(v.AppName, component, vi)

	resolver := authn.NewResolver(authn.Options{
		Verifier:     jws.Verifier{Leeway: conf.TokenLeeway},
		DefaultLabel: conf.AgentLabel,
		RequireLabel: conf.RequireAgentLabel,
	})

	app, err := newDemo(reg, resolver)
	if err != nil {
		L.Error(ctx, err, "failed to register application metrics")
		os.Exit(1)
	}

	if conf.RateLimit > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
			ratelimit.WithMaxKeys(conf.RateLimitKeys),
			ratelimit.WithOnDenied(func(string) { reg.IncRateLimited() }),
			// logged once per account until it goes idle
			ratelimit.WithOnFirstDenied(func(account string) {
				L.Warn(ctx, "rate limit triggered", "account_id", account)
			}),
			ratelimit.WithOnCapacity(func() {
				reg.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new accounts until some are evicted")
			}),
		)
		app.rateLimit(limiter)
	}

	// readiness fails once shutdown starts so load balancers stop routing to us
	var gate opshttp.ShutdownGate

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      reg.IncPanic,
		AuthnConfig:  authnCfg,
		SeedAccount:  loopbackSeed(conf.AnonymousAudience),
		CORS:         httpmw.CORSOptions{AllowHeaders: conf.CORSHeaders()},
		BodyLimit:    conf.BodyLimit,
		Routes:       app.routes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener serves metrics, health checks and pprof. requests from
	// public addresses are rejected in middleware in case the listener is
	// ever exposed by mistake
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      reg.Handler(),
		EnablePprof:  conf.EnablePprof,
		Readiness:    gate.Probe(),
		UseRecoverMW: true,
		OnPanic:      reg.IncPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd readiness not sent", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness and give in-flight requests and load balancer checks
	// time to drain. a second signal skips the wait.
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain_period", conf.DrainPeriod)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// loadAuthnConfig reads the verification config from the file when set,
// otherwise from the SSM parameter.
func loadAuthnConfig(ctx context.Context, conf cfg.App) (*jws.Config, string, error) {
	if conf.AuthnConfigPath != "" {
		c, err := jws.LoadConfig(conf.AuthnConfigPath)
		return c, "file", err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, "ssm", xerrors.Wrap(err, "load AWS config")
	}
	c, err := jws.LoadConfigFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.AuthnSSMParam,
		jws.Format(strings.ToLower(conf.AuthnSSMFormat)))
	return c, "ssm", err
}

// loopbackSeed grants credential-less requests from loopback peers (local
// sidecars and health agents) anonymous access under audience. The peer
// address comes from the socket, never from request headers.
func loopbackSeed(audience string) authn.SeedFunc {
	if audience == "" {
		return nil
	}
	return func(r *http.Request) (authn.AccountID, bool) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return authn.AccountID{}, false
		}
		ip, err := netip.ParseAddr(host)
		if err != nil || !ip.Unmap().IsLoopback() {
			return authn.AccountID{}, false
		}
		return authn.AccountID{Audience: audience}, true
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
