package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/sessions"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// IDTokenVerifier is satisfied by *oidc.IDTokenVerifier.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Options configures a Client.
type Options struct {
	// Store holds the session under StorageKey(ProjectRef).
	Store      storage.Store
	ProjectRef string
	// Origin tags this client's storage writes. Views use their view ID so
	// they do not receive storage events for their own writes.
	Origin string
	// OAuth2 is needed for code exchange and refresh; nil disables both.
	OAuth2 *oauth2.Config
	// Verifier checks ID tokens on sign-in; nil skips the check.
	Verifier IDTokenVerifier
	// TokenVerifier checks relayed access tokens. Without one a relayed
	// session is installed but carries no user ID or email.
	TokenVerifier AccessTokenVerifier
	Logger        zerolog.Logger
}

var _ Provider = (*Client)(nil)

// Client keeps one session in shared storage and reports the transitions it
// causes to its subscribers. Transitions made by other clients are only
// visible through storage.
type Client struct {
	store    storage.Store
	key      string
	origin   string
	oauth    *oauth2.Config
	verifier IDTokenVerifier
	tokens   AccessTokenVerifier
	log      zerolog.Logger

	mu     sync.Mutex
	subs   map[uint64]sessions.StateChangeFunc
	nextID uint64
}

func NewClient(opts Options) *Client {
	return &Client{
		store:    opts.Store,
		key:      StorageKey(opts.ProjectRef),
		origin:   opts.Origin,
		oauth:    opts.OAuth2,
		verifier: opts.Verifier,
		tokens:   opts.TokenVerifier,
		log:      opts.Logger.With().Str("component", "identity").Logger(),
		subs:     make(map[uint64]sessions.StateChangeFunc),
	}
}

// StorageKey returns the key this client persists its session under.
func (c *Client) StorageKey() string {
	return c.key
}

// CurrentSession returns the stored session. An expired access token is
// refreshed first when a refresh token is available. A refresh token the
// provider rejects as invalid signs the client out; any other refresh failure
// is returned and leaves the stored session in place.
func (c *Client) CurrentSession(ctx context.Context) (*sessions.Session, error) {
	s, err := c.load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Expired(NowTimeFunc()) || s.RefreshToken == "" || c.oauth == nil {
		return s, nil
	}

	refreshed, err := c.refresh(ctx, s)
	if err == nil {
		return refreshed, nil
	}
	if !apperrors.Is(err, apperrors.ErrRefreshRejected) {
		return nil, err
	}
	return c.dropRejected(ctx, s.RefreshToken)
}

// dropRejected signs out after the provider rejected spent. Another view of
// the device may have rotated the refresh token in the meantime, in which
// case the newer session is kept and returned.
func (c *Client) dropRejected(ctx context.Context, spent string) (*sessions.Session, error) {
	stored, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if stored.RefreshToken != spent {
		c.log.Debug().Msg("refresh token rotated by another view, keeping the stored session")
		return stored, nil
	}
	c.log.Info().Msg("refresh token rejected, signing out")
	return nil, c.SignOut(ctx)
}

// ExchangeCode completes an authorization-code flow and signs the user in.
// nonce is compared against the ID token when a verifier is configured.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*sessions.Session, error) {
	if c.oauth == nil {
		return nil, apperrors.ErrUnsupported
	}

	token, err := c.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("[Client ExchangeCode] token exchange: %w", err)
	}

	s := &sessions.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		s.IDToken = rawIDToken
		if c.verifier != nil {
			if err := c.verifyIDToken(ctx, s, nonce); err != nil {
				return nil, err
			}
		}
	}

	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	c.emit(sessions.EventSignedIn, s)
	return s, nil
}

func (c *Client) verifyIDToken(ctx context.Context, s *sessions.Session, nonce string) error {
	idToken, err := c.verifier.Verify(ctx, s.IDToken)
	if err != nil {
		return fmt.Errorf("[Client verifyIDToken] %w: %v", apperrors.ErrInvalidToken, err)
	}
	if idToken.Nonce != nonce {
		return apperrors.ErrInvalidNonce
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("[Client verifyIDToken] claims: %w", err)
	}
	s.UserID = idToken.Subject
	s.Email = claims.Email
	return nil
}

// SetSession installs a session handed over by another application. The
// access token must be a JWT. With a TokenVerifier its signature is checked
// and its sub and email claims become the session's identity; without one
// only exp is read, and the session carries no identity.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, apperrors.ErrInvalidToken
	}

	claims, err := c.accessClaims(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	s := &sessions.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		Expiry:       claims.Expiry,
		UserID:       claims.Subject,
		Email:        claims.Email,
	}

	if s.Expired(NowTimeFunc()) && c.oauth != nil {
		return c.refresh(ctx, s)
	}

	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	c.emit(sessions.EventSignedIn, s)
	return s, nil
}

func (c *Client) accessClaims(ctx context.Context, accessToken string) (*TokenClaims, error) {
	if c.tokens != nil {
		claims, err := c.tokens.VerifyAccessToken(ctx, accessToken)
		if err != nil {
			return nil, fmt.Errorf("[Client SetSession] %w: %v", apperrors.ErrInvalidToken, err)
		}
		return claims, nil
	}

	parsed := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, parsed); err != nil {
		return nil, fmt.Errorf("[Client SetSession] %w: %v", apperrors.ErrInvalidToken, err)
	}
	claims := &TokenClaims{}
	if exp, err := parsed.GetExpirationTime(); err == nil && exp != nil {
		claims.Expiry = exp.Time
	}
	return claims, nil
}

// Refresh mints a new access token from the stored refresh token.
func (c *Client) Refresh(ctx context.Context) (*sessions.Session, error) {
	s, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.ErrNoSession
	}
	return c.refresh(ctx, s)
}

func (c *Client) refresh(ctx context.Context, s *sessions.Session) (*sessions.Session, error) {
	if s.RefreshToken == "" {
		return nil, apperrors.ErrMissingRefresh
	}
	if c.oauth == nil {
		return nil, apperrors.ErrUnsupported
	}

	token, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.RefreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, fmt.Errorf("[Client refresh] %w: %v", apperrors.ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("[Client refresh] %w", err)
	}

	refreshed := *s
	refreshed.AccessToken = token.AccessToken
	refreshed.Expiry = token.Expiry
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		refreshed.TokenType = token.TokenType
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		refreshed.IDToken = rawIDToken
	}

	if err := c.save(ctx, &refreshed); err != nil {
		return nil, err
	}
	c.emit(sessions.EventTokenRefreshed, &refreshed)
	return &refreshed, nil
}

// isInvalidGrant reports whether the token endpoint refused the refresh token
// itself. Outages and other errors leave the refresh token usable.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !apperrors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode != "" {
		return retrieveErr.ErrorCode == "invalid_grant"
	}
	if retrieveErr.Response == nil {
		return false
	}
	switch retrieveErr.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return false
}

// SignOut removes the stored session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.store.Delete(storage.WithOrigin(ctx, c.origin), c.key); err != nil {
		return fmt.Errorf("[Client SignOut] %w", err)
	}
	c.emit(sessions.EventSignedOut, nil)
	return nil
}

func (c *Client) OnSessionStateChange(fn sessions.StateChangeFunc) sessions.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return sessions.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	})
}

func (c *Client) emit(event sessions.StateEvent, s *sessions.Session) {
	c.mu.Lock()
	subs := make([]sessions.StateChangeFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.log.Debug().Str("event", string(event)).Msg("session state change")
	for _, fn := range subs {
		fn(event, s)
	}
}

func (c *Client) load(ctx context.Context) (*sessions.Session, error) {
	raw, err := c.store.Get(ctx, c.key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[Client load] %w", err)
	}

	var s sessions.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("[Client load] decode: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (c *Client) save(ctx context.Context, s *sessions.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[Client save] encode: %w", err)
	}
	if err := c.store.Set(storage.WithOrigin(ctx, c.origin), c.key, string(raw)); err != nil {
		return fmt.Errorf("[Client save] %w", err)
	}
	return nil
}
