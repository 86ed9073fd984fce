package redisclient_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-relay/internal/redisclient"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redisclient.New(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Health(context.Background()))

	mr.Close()
	require.Error(t, client.Health(context.Background()))
}

func TestNew_BadURL(t *testing.T) {
	_, err := redisclient.New(context.Background(), "not-a-url")
	require.Error(t, err)
}
