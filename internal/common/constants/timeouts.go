// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// AgentStartupTimeout is the maximum time to wait for a spawned agent
	// server to answer its status probe.
	AgentStartupTimeout = 30 * time.Second

	// AgentStopGracePeriod is how long a stopping agent gets before its
	// process group is force killed.
	AgentStopGracePeriod = 3 * time.Second

	// AgentConfigureTimeout bounds the one-time provider and extension setup
	// that runs after the agent reports ready.
	AgentConfigureTimeout = 20 * time.Second

	// StatusProbeTimeout bounds a single readiness probe request.
	StatusProbeTimeout = 2 * time.Second

	// GatewayShutdownTimeout is the maximum time to drain webview connections.
	GatewayShutdownTimeout = 5 * time.Second
)
