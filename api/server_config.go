package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the engine API server.
type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr disables the metrics listener when empty.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long /drain keeps the server unready before
	// load balancers are assumed to have noticed.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// DefaultHTTPServerConfig fills in the timeouts used in production.
func DefaultHTTPServerConfig(listenAddr string, log *slog.Logger) *HTTPServerConfig {
	return &HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      log,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}
