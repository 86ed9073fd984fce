package server

import (
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/server/authflowrepo"
	"golang.org/x/oauth2"
)

// LoginHandler starts an authorization code flow with PKCE (GET /login).
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oidcConfig, err := s.getOidcConfig(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("login unavailable")
			http.Error(w, "Sign-in is not available", http.StatusServiceUnavailable)
			return
		}

		deviceID, _ := deviceIDFromRequest(r)
		state := generateRandomString(32)
		codeVerifier := generateRandomString(32)
		nonce := generateRandomString(16)

		err = s.deps.AuthFlows.Upsert(state, &authflowrepo.AuthFlowState{
			DeviceID:     deviceID,
			CodeVerifier: codeVerifier,
			Nonce:        nonce,
			ReturnURL:    localReturnURL(r.URL.Query().Get("return_to")),
			CreatedAt:    s.deps.Clock.Now(),
		})
		if err != nil {
			http.Error(w, "Failed to start sign-in", http.StatusInternalServerError)
			return
		}

		authURL := oidcConfig.OAuth2Config.AuthCodeURL(state,
			oidc.Nonce(nonce),
			oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(codeVerifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OAuthCallbackHandler completes the flow started by LoginHandler and stores
// the session in the device's storage, which every open view of the device observes.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		state := query.Get("state")
		code := query.Get("code")
		errorParam := query.Get("error")
		errorDesc := query.Get("error_description")

		// Check for authorization errors
		if errorParam != "" {
			http.Error(w, fmt.Sprintf("Authorization failed: %s - %s", errorParam, errorDesc), http.StatusBadRequest)
			return
		}

		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		// The state is single use
		authState, err := s.deps.AuthFlows.Take(state)
		if err != nil || authState == nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		if authState.Expired(s.deps.Clock.Now(), s.config.GetAuthFlowTimeout()) {
			http.Error(w, "Sign-in took too long, please try again", http.StatusBadRequest)
			return
		}
		if deviceID, _ := deviceIDFromRequest(r); deviceID != authState.DeviceID {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		_, err = s.clientFor(r).ExchangeCode(r.Context(), code, authState.CodeVerifier, authState.Nonce)
		switch {
		case err == nil:
		case apperrors.Is(err, apperrors.ErrInvalidNonce):
			http.Error(w, "Invalid nonce", http.StatusUnauthorized)
			return
		case apperrors.Is(err, apperrors.ErrInvalidToken):
			http.Error(w, "ID token verification failed", http.StatusUnauthorized)
			return
		default:
			s.log.Error().Err(err).Msg("code exchange failed")
			http.Error(w, "Token exchange failed", http.StatusBadGateway)
			return
		}

		http.Redirect(w, r, authState.ReturnURL, http.StatusSeeOther)
	}
}

// LogoutHandler signs the device out (POST /auth/logout). Open views of the
// device reload through their storage watch.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.clientFor(r).SignOut(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("sign-out failed")
			http.Error(w, "Sign-out failed", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, localReturnURL(r.FormValue("return_to")), http.StatusSeeOther)
	}
}
