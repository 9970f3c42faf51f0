package opshttp

import (
	"net/http"
	"time"
)

type Options struct {
	Port int
	// Metrics serves /metrics; nil falls back to the process default gatherer.
	Metrics     http.Handler
	EnablePprof bool
	Health      Probe
	Readiness   Probe
	// ShutdownTimeout bounds graceful shutdown (default 3s).
	ShutdownTimeout time.Duration
	UseRecoverMW    bool
	OnPanic         func()
}
