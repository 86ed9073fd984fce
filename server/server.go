package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-session-relay/broadcast"
	"github.com/jrsteele09/go-session-relay/identity"
	"github.com/jrsteele09/go-session-relay/internal/config"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/metrics"
	"github.com/jrsteele09/go-session-relay/server/authflowrepo"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/jrsteele09/go-session-relay/view"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDiscoveryTimeout = 5 * time.Second
	// discoveryRetryAfter is how long a failed discovery is reported without
	// contacting the issuer again.
	discoveryRetryAfter = 30 * time.Second
)

type OidcConfig struct {
	OidcProvider *oidc.Provider
	OAuth2Config *oauth2.Config
	OidcVerifier *oidc.IDTokenVerifier
	// AccessVerifier checks the signature of relayed access tokens against
	// the provider's keys.
	AccessVerifier *oidc.IDTokenVerifier
}

// Deps are the shared backends the server runs on.
type Deps struct {
	Store     storage.Store
	Bus       broadcast.Bus
	AuthFlows authflowrepo.Repo
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	// Health reports whether the backends are reachable; nil means always healthy.
	Health func(ctx context.Context) error
	// OIDC skips provider discovery when set.
	OIDC *OidcConfig
	// DiscoveryTimeout bounds one provider discovery attempt; zero means 5s.
	DiscoveryTimeout time.Duration
	Clock            clockwork.Clock
	Logger           zerolog.Logger
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	deps    Deps
	gateway *view.Gateway
	log     zerolog.Logger

	oidc          *OidcConfig
	oidcErr       error
	oidcFailedAt  time.Time
	oidcLock      sync.RWMutex
	oidcDiscovery singleflight.Group
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Bus == nil || deps.AuthFlows == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("[Server New] store, bus, auth flows and metrics are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.DiscoveryTimeout <= 0 {
		deps.DiscoveryTimeout = defaultDiscoveryTimeout
	}

	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
		deps:   deps,
		oidc:   deps.OIDC,
		log:    deps.Logger.With().Str("component", "server").Logger(),
	}
	s.gateway = view.NewGateway(view.Options{
		Store: deps.Store,
		Bus:   deps.Bus,
		NewClient: func(deviceStore storage.Store, viewID string) view.SessionClient {
			return s.newClient(context.Background(), deviceStore, viewID)
		},
		DeviceID:       deviceIDFromRequest,
		OriginPatterns: cfg.GetAllowedOrigins().Patterns(),
		PollInterval:   cfg.GetPollInterval(),
		Clock:          deps.Clock,
		Observer:       deps.Metrics,
		Lifecycle:      deps.Metrics,
		Logger:         deps.Logger,
	})

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
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		s.log.Debug().Str("method", method).Str("path", path).Msg("route")
	}
}

// clientFor returns the identity client of the device that sent r.
func (s *Server) clientFor(r *http.Request) *identity.Client {
	deviceID, _ := deviceIDFromRequest(r)
	return s.newClient(r.Context(), storage.Partition(s.deps.Store, deviceID), "")
}

// newClient builds an identity client over a device's store. Without a
// reachable identity provider the client still reads and writes sessions but
// cannot exchange codes or refresh.
func (s *Server) newClient(ctx context.Context, deviceStore storage.Store, origin string) *identity.Client {
	opts := identity.Options{
		Store:      deviceStore,
		ProjectRef: s.config.GetProjectRef(),
		Origin:     origin,
		Logger:     s.deps.Logger,
	}
	if secret := s.config.GetJWTSecret(); secret != "" {
		opts.TokenVerifier = identity.NewHMACVerifier(secret)
	}
	oidcConfig, err := s.getOidcConfig(ctx)
	switch {
	case err == nil:
		opts.OAuth2 = oidcConfig.OAuth2Config
		if oidcConfig.OidcVerifier != nil {
			opts.Verifier = oidcConfig.OidcVerifier
		}
		if opts.TokenVerifier == nil && oidcConfig.AccessVerifier != nil {
			opts.TokenVerifier = identity.NewOIDCAccessVerifier(oidcConfig.AccessVerifier)
		}
	case !apperrors.Is(err, apperrors.ErrUnsupported):
		s.log.Warn().Err(err).Msg("identity provider unavailable, sessions will not refresh")
	}
	return identity.NewClient(opts)
}

// getOidcConfig discovers the identity provider once and caches the result.
// A failed discovery is cached for discoveryRetryAfter. It returns
// ErrUnsupported when no issuer is configured.
func (s *Server) getOidcConfig(ctx context.Context) (OidcConfig, error) {
	s.oidcLock.RLock()
	cached, lastErr, failedAt := s.oidc, s.oidcErr, s.oidcFailedAt
	s.oidcLock.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	if lastErr != nil && s.deps.Clock.Since(failedAt) < discoveryRetryAfter {
		return OidcConfig{}, lastErr
	}

	issuer := s.config.GetIssuer()
	if issuer == "" {
		return OidcConfig{}, apperrors.Wrapf(apperrors.ErrUnsupported, "no identity provider configured")
	}

	result, err, _ := s.oidcDiscovery.Do(issuer, func() (any, error) {
		return s.discover(ctx, issuer)
	})
	if err != nil {
		return OidcConfig{}, err
	}
	return *result.(*OidcConfig), nil
}

func (s *Server) discover(ctx context.Context, issuer string) (*OidcConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.deps.DiscoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		err = fmt.Errorf("failed to create OIDC provider: %w", err)
		s.oidcLock.Lock()
		s.oidcErr = err
		s.oidcFailedAt = s.deps.Clock.Now()
		s.oidcLock.Unlock()
		return nil, err
	}

	oidcConfig := &OidcConfig{
		OidcProvider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     s.config.GetClientID(),
			ClientSecret: s.config.GetClientSecret(),
			Endpoint:     provider.Endpoint(),
			RedirectURL:  strings.TrimSuffix(s.config.GetBaseURL(), "/") + RouteCallback,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		},
		OidcVerifier: provider.Verifier(&oidc.Config{
			ClientID: s.config.GetClientID(),
		}),
		AccessVerifier: provider.Verifier(&oidc.Config{
			SkipClientIDCheck: true,
			SkipExpiryCheck:   true,
		}),
	}
	s.oidcLock.Lock()
	s.oidc = oidcConfig
	s.oidcErr = nil
	s.oidcLock.Unlock()

	return oidcConfig, nil
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
