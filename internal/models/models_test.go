package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openwork/internal/settings"
)

func newService(t *testing.T) (*Service, *settings.Manager) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	sm, err := settings.NewManagerAt(t.TempDir())
	require.NoError(t, err)
	return NewService(sm), sm
}

func TestResolveMissingCredentials(t *testing.T) {
	s, _ := newService(t)

	_, err := s.Resolve("claude-sonnet-4-20250514")
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "Anthropic API key not configured")
}

func TestResolveStoredAndEnvKeys(t *testing.T) {
	s, sm := newService(t)
	require.NoError(t, sm.SetAPIKey(ProviderOpenAI, "sk-stored"))
	t.Setenv("GOOGLE_API_KEY", "g-env")

	r, err := s.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, r.Provider)
	assert.Equal(t, "sk-stored", r.APIKey)
	assert.Equal(t, "OPENAI_API_KEY", r.EnvVar)

	r, err = s.Resolve("gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "g-env", r.APIKey)
}

func TestResolveUnknownProvider(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Resolve("llama-3")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDefaultModel(t *testing.T) {
	s, sm := newService(t)
	assert.Equal(t, DefaultModel, s.Default())

	require.NoError(t, s.SetDefault("gpt-4o-mini"))
	assert.Equal(t, "gpt-4o-mini", s.Default())
	assert.Error(t, s.SetDefault("mystery"))

	require.NoError(t, sm.SetAPIKey(ProviderOpenAI, "k"))
	r, err := s.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", r.ID)
}

func TestListAvailability(t *testing.T) {
	s, sm := newService(t)
	require.NoError(t, sm.SetAPIKey(ProviderAnthropic, "k"))

	for _, m := range s.List() {
		assert.Equal(t, m.Provider == ProviderAnthropic, m.Available, m.ID)
	}
	assert.True(t, s.Providers()[ProviderAnthropic])
	assert.False(t, s.Providers()[ProviderGoogle])
}
