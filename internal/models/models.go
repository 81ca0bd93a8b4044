// Package models resolves model identifiers to a provider and its
// connection settings.
package models

import (
	"errors"
	"fmt"
	"strings"

	"openwork/internal/settings"
)

// DefaultModel is used when neither the thread nor the settings name one.
const DefaultModel = "claude-sonnet-4-20250514"

// ErrMissingCredentials is returned when the provider of a model has no API key.
var ErrMissingCredentials = errors.New("missing provider credentials")

// ErrUnknownProvider is returned for model ids no provider claims.
var ErrUnknownProvider = errors.New("unknown model provider")

// Provider ids
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

var providerNames = map[string]string{
	ProviderAnthropic: "Anthropic",
	ProviderOpenAI:    "OpenAI",
	ProviderGoogle:    "Google",
}

// Model describes a selectable model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Description string `json:"description,omitempty"`
	Available   bool   `json:"available"`
}

// Catalog of built-in models.
var catalog = []Model{
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514", Description: "Balanced model for coding work"},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: ProviderAnthropic, Model: "claude-3-5-haiku-20241022", Description: "Fast and inexpensive"},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: ProviderOpenAI, Model: "gpt-4o"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: ProviderGoogle, Model: "gemini-2.0-flash"},
}

// Resolved is a model ready to be handed to the agent process.
type Resolved struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"-"`
	EnvVar   string `json:"-"` // variable the agent process reads the key from
}

// Service resolves models against stored credentials.
type Service struct {
	settings *settings.Manager
}

// NewService creates a model service.
func NewService(sm *settings.Manager) *Service {
	return &Service{settings: sm}
}

// List returns the catalog with availability filled in.
func (s *Service) List() []Model {
	out := make([]Model, len(catalog))
	for i, m := range catalog {
		m.Available = s.settings.HasAPIKey(m.Provider)
		out[i] = m
	}
	return out
}

// Providers returns provider ids with whether a key is configured.
func (s *Service) Providers() map[string]bool {
	out := make(map[string]bool, len(providerNames))
	for id := range providerNames {
		out[id] = s.settings.HasAPIKey(id)
	}
	return out
}

// Default returns the configured default model id.
func (s *Service) Default() string {
	if id := s.settings.GetSettings().DefaultModel; id != "" {
		return id
	}
	return DefaultModel
}

// SetDefault stores the default model id.
func (s *Service) SetDefault(modelID string) error {
	if _, err := ProviderFor(modelID); err != nil {
		return err
	}
	st := s.settings.GetSettings()
	st.DefaultModel = modelID
	return s.settings.SaveSettings(st)
}

// Resolve maps modelID to its provider and credentials. An empty id
// resolves the default model. The error names the provider so it can be
// shown to the user as is.
func (s *Service) Resolve(modelID string) (Resolved, error) {
	if modelID == "" {
		modelID = s.Default()
	}
	provider, err := ProviderFor(modelID)
	if err != nil {
		return Resolved{}, err
	}
	key := s.settings.GetAPIKey(provider)
	if key == "" {
		return Resolved{}, fmt.Errorf("%s API key not configured: %w", providerNames[provider], ErrMissingCredentials)
	}

	r := Resolved{ID: modelID, Provider: provider, Model: modelID, APIKey: key, EnvVar: settings.EnvVarFor(provider)}
	for _, m := range catalog {
		if m.ID == modelID {
			r.Model = m.Model
			break
		}
	}
	return r, nil
}

// ProviderFor infers the provider from a model id prefix.
func ProviderFor(modelID string) (string, error) {
	switch {
	case strings.HasPrefix(modelID, "claude"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(modelID, "gpt"), strings.HasPrefix(modelID, "o1"), strings.HasPrefix(modelID, "o3"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(modelID, "gemini"):
		return ProviderGoogle, nil
	}
	return "", fmt.Errorf("%w for model %q", ErrUnknownProvider, modelID)
}
