// Package prof runs the pyroscope agent for continuous profiling.
package prof

import (
	"context"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/svcmw/internal/log"
	"github.com/keithlinneman/svcmw/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	Component     string
	ServerAddress string
	TenantID      string
	Tags          map[string]string
}

// profiles excludes mutex and block profiles; the service never enables
// their runtime sampling.
var profiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start launches the agent and returns its stop function. The returned
// function is always safe to call, also on error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}

	cfg, err := config(opts)
	if err != nil {
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	kv := []any{"server_address", opts.ServerAddress, "app_name", opts.AppName, "component", opts.Component}
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", kv...)
		return noop, err
	}
	L.Info(ctx, "pyroscope started", kv...)

	return func() {
		_ = profiler.Stop()
		L.Info(context.Background(), "pyroscope stopped", kv...)
	}, nil
}

func config(opts Options) (pyroscope.Config, error) {
	if opts.ServerAddress == "" {
		return pyroscope.Config{}, xerrors.New("pyroscope server address is empty")
	}
	if opts.AppName == "" {
		return pyroscope.Config{}, xerrors.New("pyroscope application name is empty")
	}
	return pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            tags(opts),
		ProfileTypes:    profiles,
	}, nil
}

// tags copies the caller's tags and adds the component tag when set.
func tags(opts Options) map[string]string {
	out := make(map[string]string, len(opts.Tags)+1)
	for k, v := range opts.Tags {
		out[k] = v
	}
	if opts.Component != "" {
		out["component"] = opts.Component
	}
	return out
}
