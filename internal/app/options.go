package app

// Options are the command-line level settings for one runhub process.
type Options struct {
	// ConfigPath is the configuration file. A missing file means defaults.
	ConfigPath string

	// Debug forces debug-level logging regardless of the configured level.
	Debug bool

	// Silent suppresses all log output. Used by tests and stdio clients
	// that want a quiet process.
	Silent bool

	// Version is the build version reported by the MCP server and logs.
	Version string
}
