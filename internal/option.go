package internal

import "github.com/starford/laguz/internal/notesync"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	mcpMode bool
	probe   notesync.ConnectivityProbe
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMCP switches the process into MCP stdio mode instead of serving the
// HTTP gateway.
func WithMCP(enabled bool) Option {
	return func(a *application) {
		a.mcpMode = enabled
	}
}

// WithConnectivityProbe overrides the default dial-based probe, for tests.
func WithConnectivityProbe(p notesync.ConnectivityProbe) Option {
	return func(a *application) {
		a.probe = p
	}
}
