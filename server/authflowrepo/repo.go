package authflowrepo

import "time"

// AuthFlowState is what /login remembers about a sign-in until /callback.
type AuthFlowState struct {
	DeviceID     string    `json:"device_id"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	ReturnURL    string    `json:"return_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the flow was started more than ttl before now.
func (s *AuthFlowState) Expired(now time.Time, ttl time.Duration) bool {
	return now.After(s.CreatedAt.Add(ttl))
}

// Repo keeps auth flow state keyed by the OAuth2 state parameter.
// Get and Take return errors.ErrNotFound for an unknown or expired state.
type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	// Take returns the state and removes it in one step.
	Take(state string) (*AuthFlowState, error)
	Delete(state string) error
}
