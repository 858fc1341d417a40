package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthStart    = "/auth/start"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"

	// Audit Routes
	RouteCSRFToken        = "/csrf-token"
	RouteAuditPermissions = "/audits/permissions"
	RouteAuditRun         = "/audits/run"
	RouteAuditStatus      = "/audits/status"
	RouteAuditResults     = "/audits/results"
	RouteAuditCancel      = "/audits/cancel"

	// Operational Routes
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
