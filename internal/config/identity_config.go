package config

import "time"

const (
	oidcIssuerVar       = "OIDC_ISSUER"
	oidcClientIDVar     = "OIDC_CLIENT_ID"
	oidcClientSecretVar = "OIDC_CLIENT_SECRET"
	projectRefVar       = "AUTH_PROJECT_REF"
	jwtSecretVar        = "AUTH_JWT_SECRET"
)

type IdentityConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetProjectRef() string
	GetJWTSecret() string
	GetAuthFlowTimeout() time.Duration
	GetDeviceCookieMaxAge() time.Duration
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIssuer() string {
	return GetEnv(oidcIssuerVar, "")
}

func (Identity) GetClientID() string {
	return GetEnv(oidcClientIDVar, "")
}

func (Identity) GetClientSecret() string {
	return GetEnv(oidcClientSecretVar, "")
}

// GetProjectRef is the namespace segment of the auth-token storage key.
func (Identity) GetProjectRef() string {
	return GetEnv(projectRefVar, "local")
}

// GetJWTSecret is the HMAC key relayed access tokens are signed with. Empty
// means relayed tokens are checked against the provider's keys when an issuer
// is configured, and otherwise carry no identity.
func (Identity) GetJWTSecret() string {
	return GetEnv(jwtSecretVar, "")
}

func (Identity) GetAuthFlowTimeout() time.Duration {
	return 10 * time.Minute
}

func (Identity) GetDeviceCookieMaxAge() time.Duration {
	return 365 * 24 * time.Hour
}
