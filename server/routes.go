package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// LOGIN
	s.RegisterRouteFunc("GET "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.HTMLMiddleWare()...))
	// Only GET: a cross-site form_post would arrive without the SameSite=Lax
	// device cookie the flow is bound to.
	s.RegisterRouteFunc("GET "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// RELAY
	s.RegisterRouteFunc("GET "+RouteAuthRelay, ChainMiddleware(s.RelayReceiveHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteRelay, ChainMiddleware(s.RelayHandler(), s.HTMLMiddleWare()...))

	// SESSION
	s.RegisterRouteFunc("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("OPTIONS "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	// The response writer must stay hijackable for the websocket upgrade.
	s.RegisterRouteFunc("GET "+RouteWSView, ChainMiddleware(s.gateway.ServeHTTP, s.RecoverMiddleware, s.DeviceMiddleware))

	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthHandler())
	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
