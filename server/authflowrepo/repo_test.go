package authflowrepo_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/server/authflowrepo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func repos(t *testing.T) map[string]authflowrepo.Repo {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]authflowrepo.Repo{
		"memory": authflowrepo.NewInMemoryRepo(time.Minute, nil),
		"redis":  authflowrepo.NewRedisRepo(client, time.Minute),
	}
}

func TestRepo_RoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			state := &authflowrepo.AuthFlowState{
				DeviceID:     "device-1",
				CodeVerifier: "verifier",
				Nonce:        "nonce",
				ReturnURL:    "/inbox",
				CreatedAt:    created,
			}
			require.NoError(t, repo.Upsert("state-1", state))

			// the stored copy is not affected by later changes to the caller's value
			state.ReturnURL = "/changed"

			got, err := repo.Get("state-1")
			require.NoError(t, err)
			require.Equal(t, "device-1", got.DeviceID)
			require.Equal(t, "/inbox", got.ReturnURL)
			require.True(t, created.Equal(got.CreatedAt))

			require.NoError(t, repo.Delete("state-1"))
			_, err = repo.Get("state-1")
			require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
		})
	}
}

func TestRepo_TakeConsumesOnce(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Upsert("state-1", &authflowrepo.AuthFlowState{DeviceID: "device-1"}))

			got, err := repo.Take("state-1")
			require.NoError(t, err)
			require.Equal(t, "device-1", got.DeviceID)

			_, err = repo.Take("state-1")
			require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
			_, err = repo.Get("state-1")
			require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
		})
	}
}

func TestRepo_ConcurrentTake(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Upsert("state-1", &authflowrepo.AuthFlowState{DeviceID: "device-1"}))

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
			)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := repo.Take("state-1"); err == nil {
						succeeded.Add(1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), succeeded.Load())
		})
	}
}

func TestInMemoryRepo_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := authflowrepo.NewInMemoryRepo(10*time.Minute, clock)

	require.NoError(t, repo.Upsert("abandoned", &authflowrepo.AuthFlowState{DeviceID: "device-1"}))
	clock.Advance(9 * time.Minute)
	_, err := repo.Get("abandoned")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = repo.Get("abandoned")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = repo.Take("abandoned")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestInMemoryRepo_UpsertPrunesExpired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := authflowrepo.NewInMemoryRepo(10*time.Minute, clock)

	// logins that never come back
	for _, state := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Upsert(state, &authflowrepo.AuthFlowState{}))
	}
	require.Equal(t, 3, repo.Len())

	clock.Advance(11 * time.Minute)
	require.NoError(t, repo.Upsert("fresh", &authflowrepo.AuthFlowState{}))
	require.Equal(t, 1, repo.Len())
}

func TestRedisRepo_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := authflowrepo.NewRedisRepo(client, 10*time.Minute)

	require.NoError(t, repo.Upsert("abandoned", &authflowrepo.AuthFlowState{}))
	mr.FastForward(11 * time.Minute)

	_, err := repo.Take("abandoned")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRepo_RejectsEmptyState(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, repo.Upsert("", &authflowrepo.AuthFlowState{}))
			require.Error(t, repo.Upsert("s", nil))
			_, err := repo.Get("")
			require.Error(t, err)
			_, err = repo.Take("")
			require.Error(t, err)
			require.Error(t, repo.Delete(""))
		})
	}
}

func TestAuthFlowState_Expired(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &authflowrepo.AuthFlowState{CreatedAt: created}

	require.False(t, s.Expired(created.Add(9*time.Minute), 10*time.Minute))
	require.True(t, s.Expired(created.Add(11*time.Minute), 10*time.Minute))
}
