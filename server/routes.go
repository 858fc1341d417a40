package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// AUTH (browser navigations)
	s.RegisterRouteHandler("GET "+RouteAuthStart, ChainMiddleware(s.AuthStartHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.AuthCallbackHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// AUDITS (session required, state changes also require a CSRF token)
	s.RegisterRouteHandler("GET "+RouteCSRFToken, ChainMiddleware(s.CSRFTokenHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteAuditPermissions, ChainMiddleware(s.PermissionsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteAuditRun, ChainMiddleware(s.RunAuditHandler(), s.APIMiddleware(s.RequireSession(), s.RequireCSRF())...))
	s.RegisterRouteHandler("GET "+RouteAuditStatus, ChainMiddleware(s.AuditStatusHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteAuditResults, ChainMiddleware(s.AuditResultsHandler(), s.APIMiddleware(s.RequireSession(), s.CompressionMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteAuditCancel, ChainMiddleware(s.CancelAuditHandler(), s.APIMiddleware(s.RequireSession(), s.RequireCSRF())...))

	// CORS preflight for the JSON routes
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.CorsMiddleware))

	// OPERATIONAL
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.MetricsHandler())
	}
}
