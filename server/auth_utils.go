package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// deviceCookieName identifies one browser profile; every tab of the
	// profile shares its storage and broadcast channel.
	deviceCookieName = "device_id"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyDeviceID stores the device the request came from
	ContextKeyDeviceID ContextKey = "device_id"
)

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateCodeChallenge creates a PKCE code challenge from a verifier
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func (s *Server) SetDeviceCookie(w http.ResponseWriter, deviceID string, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    deviceID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetDeviceCookieMaxAge().Seconds()),
	})
}

// DeviceMiddleware makes sure every request carries a device ID, issuing a
// new device cookie on the first visit.
func (s *Server) DeviceMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID, ok := deviceIDFromCookie(r)
		if !ok {
			if r.URL.Path == RouteWSView {
				// a view is only ever opened by a page that already has the cookie
				http.Error(w, "missing device", http.StatusBadRequest)
				return
			}
			deviceID = uuid.NewString()
			s.SetDeviceCookie(w, deviceID, r)
		}
		ctx := context.WithValue(r.Context(), ContextKeyDeviceID, deviceID)
		next(w, r.WithContext(ctx))
	}
}

func deviceIDFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(deviceCookieName)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return "", false
	}
	return cookie.Value, true
}

func deviceIDFromRequest(r *http.Request) (string, bool) {
	deviceID, ok := r.Context().Value(ContextKeyDeviceID).(string)
	if ok && deviceID != "" {
		return deviceID, true
	}
	return deviceIDFromCookie(r)
}

// localReturnURL accepts only paths on this application, so a crafted link
// cannot bounce the user, or a relayed session, to another site.
func localReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error response in the OAuth2 error shape
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
