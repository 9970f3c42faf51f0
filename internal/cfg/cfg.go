package cfg

import (
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// EnvPrefix is prepended to the upper-cased flag name for env lookups.
const EnvPrefix = "SVCMW_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	AuthnConfigPath   string
	AuthnSSMParam     string
	AuthnSSMFormat    string
	TokenLeeway       time.Duration
	RequireAgentLabel bool
	AgentLabel        string
	AnonymousAudience string

	BodyLimit        int64
	CORSAllowHeaders string

	RateLimit     float64
	RateBurst     int
	RateLimitKeys int

	DrainPeriod time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port for /metrics and health (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.AuthnConfigPath, "authn-config", "", "path to the token verification config (.yaml, .yml or .json)")
	fs.StringVar(&c.AuthnSSMParam, "authn-ssm-param", "", "ssm parameter holding the token verification config (used when -authn-config is empty)")
	fs.StringVar(&c.AuthnSSMFormat, "authn-ssm-format", "yaml", "format of the ssm verification config: yaml|json")
	fs.DurationVar(&c.TokenLeeway, "token-leeway", 30*time.Second, "clock skew tolerated on token exp/nbf/iat (0..5m)")
	fs.BoolVar(&c.RequireAgentLabel, "require-agent-label", false, "reject agent requests without an X-Agent-Label header")
	fs.StringVar(&c.AgentLabel, "agent-label", "http", "agent label used when the request carries none")
	fs.StringVar(&c.AnonymousAudience, "anonymous-audience", "", "audience granted to credential-less requests from loopback peers (empty disables)")

	fs.Int64Var(&c.BodyLimit, "body-limit", 1<<20, "max request body bytes (0 disables)")
	fs.StringVar(&c.CORSAllowHeaders, "cors-allow-headers", "", "comma separated Access-Control-Allow-Headers override")
	fs.Float64Var(&c.RateLimit, "rate-limit", 0, "authenticated requests per second per account (0 disables)")
	fs.IntVar(&c.RateBurst, "rate-burst", 30, "rate limit bucket size per account")
	fs.IntVar(&c.RateLimitKeys, "rate-limit-keys", 100000, "max accounts tracked by the rate limiter (0 = unbounded)")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "time readiness fails before listeners stop on shutdown (0..5m)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// CORSHeaders splits CORSAllowHeaders; nil means use the defaults.
func (c App) CORSHeaders() []string {
	var out []string
	for _, h := range strings.Split(c.CORSAllowHeaders, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, strings.ToLower(h))
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Token verification config: one source is required, the file wins
	switch {
	case c.AuthnConfigPath != "":
		switch strings.ToLower(filepath.Ext(c.AuthnConfigPath)) {
		case ".yaml", ".yml", ".json":
		default:
			errs = append(errs, fmt.Errorf("AUTHN_CONFIG must end in .yaml, .yml or .json (got %q)", c.AuthnConfigPath))
		}
	case c.AuthnSSMParam != "":
		if !strings.HasPrefix(c.AuthnSSMParam, "/") {
			errs = append(errs, fmt.Errorf("AUTHN_SSM_PARAM must be an absolute parameter path (got %q)", c.AuthnSSMParam))
		}
		if f := strings.ToLower(c.AuthnSSMFormat); f != "yaml" && f != "json" {
			errs = append(errs, fmt.Errorf("AUTHN_SSM_FORMAT must be yaml or json (got %q)", c.AuthnSSMFormat))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTHN_CONFIG or AUTHN_SSM_PARAM is required"))
	}
	if c.TokenLeeway < 0 || c.TokenLeeway > 5*time.Minute {
		errs = append(errs, fmt.Errorf("TOKEN_LEEWAY must be 0..5m (got %s)", c.TokenLeeway))
	}
	if strings.TrimSpace(c.AgentLabel) == "" || strings.Contains(c.AgentLabel, ".") {
		errs = append(errs, fmt.Errorf("AGENT_LABEL must be non-empty and contain no '.' (got %q)", c.AgentLabel))
	}
	if c.AnonymousAudience != "" && strings.TrimSpace(c.AnonymousAudience) != c.AnonymousAudience {
		errs = append(errs, fmt.Errorf("ANONYMOUS_AUDIENCE must not have surrounding whitespace (got %q)", c.AnonymousAudience))
	}

	if c.BodyLimit < 0 {
		errs = append(errs, fmt.Errorf("BODY_LIMIT must be >= 0 (got %d)", c.BodyLimit))
	}

	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be >= 0 (got %g)", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_BURST must be >= 1 when RATE_LIMIT is set (got %d)", c.RateBurst))
	}
	if c.RateLimitKeys < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_KEYS must be >= 0 (got %d)", c.RateLimitKeys))
	}

	if c.DrainPeriod < 0 || c.DrainPeriod > 5*time.Minute {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be 0..5m (got %s)", c.DrainPeriod))
	}

	return xerrors.Join(errs...)
}
