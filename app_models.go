package main

import (
	"fmt"

	"openwork/internal/models"
)

// =============================================================================
// MODEL AND CREDENTIAL METHODS (Bound to frontend)
// =============================================================================

// ListModels returns the model catalog with availability.
func (a *App) ListModels() []models.Model {
	if a.engine == nil {
		return nil
	}
	return a.engine.Models().List()
}

// GetProviders returns each provider with whether a key is configured.
func (a *App) GetProviders() map[string]bool {
	if a.engine == nil {
		return nil
	}
	return a.engine.Models().Providers()
}

// GetDefaultModel returns the model used for new threads.
func (a *App) GetDefaultModel() string {
	if a.engine == nil {
		return models.DefaultModel
	}
	return a.engine.Models().Default()
}

// SetDefaultModel changes the model used for new threads.
func (a *App) SetDefaultModel(modelID string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	return e.Models().SetDefault(modelID)
}

// SetAPIKey stores the API key of a provider.
func (a *App) SetAPIKey(provider, apiKey string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	if _, ok := e.Models().Providers()[provider]; !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownProvider, provider)
	}
	return e.Settings().SetAPIKey(provider, apiKey)
}

// DeleteAPIKey removes the stored key of a provider.
func (a *App) DeleteAPIKey(provider string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	return e.Settings().DeleteAPIKey(provider)
}
