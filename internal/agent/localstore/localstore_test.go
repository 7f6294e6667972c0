package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "agent.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetToken(ctx, "tok-1"))
	require.NoError(t, s.SetConsent(ctx, true))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	consent, err := s.Consent(ctx)
	require.NoError(t, err)
	assert.True(t, consent)
}

func TestStore_OverwriteAndClear(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SetToken(ctx, "a"))
	require.NoError(t, s.SetToken(ctx, "b"))
	token, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", token)

	require.NoError(t, s.SetToken(ctx, ""))
	_, ok, err := s.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConsent(ctx, true))
	require.NoError(t, s.SetConsent(ctx, false))
	consent, err := s.Consent(ctx)
	require.NoError(t, err)
	assert.False(t, consent)
}
