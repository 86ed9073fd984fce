package authflowrepo

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
)

type inMemoryEntry struct {
	state     AuthFlowState
	expiresAt time.Time
}

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Entries expire ttl after they were stored and are pruned on Upsert.
type InMemoryRepo struct {
	mu     sync.RWMutex
	states map[string]inMemoryEntry
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewInMemoryRepo creates a new in-memory auth flow state repository. A nil
// clock uses the real clock.
func NewInMemoryRepo(ttl time.Duration, clock clockwork.Clock) *InMemoryRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryRepo{
		states: make(map[string]inMemoryEntry),
		ttl:    ttl,
		clock:  clock,
	}
}

// Upsert stores or updates an auth flow state
func (r *InMemoryRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	r.states[state] = inMemoryEntry{state: *authState, expiresAt: now.Add(r.ttl)}
	return nil
}

// Get retrieves an auth flow state by state parameter
func (r *InMemoryRepo) Get(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.states[state]
	if !exists || r.expired(entry, r.clock.Now()) {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "auth flow state")
	}
	return &entry.state, nil
}

// Take removes an auth flow state and returns it. Of several concurrent
// calls for one state, only one succeeds.
func (r *InMemoryRepo) Take(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.states[state]
	delete(r.states, state)
	if !exists || r.expired(entry, r.clock.Now()) {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "auth flow state")
	}
	return &entry.state, nil
}

// Delete removes an auth flow state
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, state)
	return nil
}

// Len returns the number of stored states, expired ones included.
func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

func (r *InMemoryRepo) expired(entry inMemoryEntry, now time.Time) bool {
	return r.ttl > 0 && !now.Before(entry.expiresAt)
}

func (r *InMemoryRepo) pruneLocked(now time.Time) {
	for state, entry := range r.states {
		if r.expired(entry, now) {
			delete(r.states, state)
		}
	}
}
