package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login & Logout
	RouteLogin      = "/login"
	RouteAuthLogout = "/auth/logout"
	RouteCallback   = "/callback"

	// Relay Routes
	RouteAuthRelay = "/auth/relay" // receiving side: installs a relayed session
	RouteRelay     = "/relay/{app}"

	// Session Routes
	RouteSession = "/session"
	RouteWSView  = "/ws/view"

	// Operational Routes
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
