package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-audit-server/audit/orchestrator"
	"github.com/jrsteele09/go-audit-server/csrf"
	"github.com/jrsteele09/go-audit-server/internal/config"
	"github.com/jrsteele09/go-audit-server/oauthflow"
	"github.com/jrsteele09/go-audit-server/permissions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Auth        *oauthflow.Manager
	CSRF        *csrf.Guard
	Permissions *permissions.Checker
	Audits      *orchestrator.Orchestrator
	Gatherer    prometheus.Gatherer // source for /metrics; nil disables the route
}

type Server struct {
	env      string // Environment (e.g., "development", "production")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	auth     *oauthflow.Manager
	csrf     *csrf.Guard
	perms    *permissions.Checker
	audits   *orchestrator.Orchestrator
	gatherer prometheus.Gatherer
	validate *validator.Validate
	proxies  []netip.Prefix
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Auth == nil {
		return nil, errors.New("[Server New] auth manager is required")
	}
	if deps.CSRF == nil {
		return nil, errors.New("[Server New] csrf guard is required")
	}
	if deps.Permissions == nil {
		return nil, errors.New("[Server New] permission checker is required")
	}
	if deps.Audits == nil {
		return nil, errors.New("[Server New] audit orchestrator is required")
	}

	validate, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create validator: %w", err)
	}
	proxies, err := parseTrustedProxies(config.GetTrustedProxies())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   config,
		auth:     deps.Auth,
		csrf:     deps.CSRF,
		perms:    deps.Permissions,
		audits:   deps.Audits,
		gatherer: deps.Gatherer,
		validate: validate,
		proxies:  proxies,
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (s *Server) trustedProxy(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address unless the peer is a trusted proxy. Then
// X-Forwarded-For is read right to left and the first untrusted hop wins.
func (s *Server) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !s.trustedProxy(peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trustedProxy(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}
