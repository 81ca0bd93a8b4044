package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const (
	ConfigDir       = ".openwork"
	SettingsFile    = "settings.json"
	CredentialsFile = "credentials.json"
)

// Environment variables consulted when no key is stored for a provider.
var providerEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// Settings holds all application settings
type Settings struct {
	Theme            string `json:"theme"`            // "dark", "light", "system"
	EnterBehavior    string `json:"enterBehavior"`    // "send", "newline"
	DefaultModel     string `json:"defaultModel"`     // model id used for new threads
	DefaultWorkspace string `json:"defaultWorkspace"` // directory offered when binding a workspace
	SyncOnBind       bool   `json:"syncOnBind"`       // load disk files into state when a workspace is bound
	DebugLogging     bool   `json:"debugLogging"`
}

// Credentials holds provider API keys keyed by provider id.
type Credentials struct {
	APIKeys map[string]string `json:"apiKeys"`
}

// Manager handles all settings operations
type Manager struct {
	configPath  string
	settings    *Settings
	credentials *Credentials
	mu          sync.RWMutex
}

// NewManager creates a settings manager rooted at ~/.openwork.
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(filepath.Join(homeDir, ConfigDir))
}

// NewManagerAt creates a settings manager rooted at configPath.
func NewManagerAt(configPath string) (*Manager, error) {
	// Ensure config directory exists
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return nil, err
	}

	m := &Manager{
		configPath:  configPath,
		settings:    defaultSettings(),
		credentials: defaultCredentials(),
	}

	// Load existing settings
	_ = m.readJSON(SettingsFile, m.settings)
	_ = m.readJSON(CredentialsFile, m.credentials)
	if m.credentials.APIKeys == nil {
		m.credentials.APIKeys = map[string]string{}
	}

	return m, nil
}

// GetConfigPath returns the path to the config directory
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

func defaultSettings() *Settings {
	return &Settings{
		Theme:         "dark",
		EnterBehavior: "send",
		SyncOnBind:    true,
	}
}

func defaultCredentials() *Credentials {
	return &Credentials{APIKeys: map[string]string{}}
}

// GetSettings returns current settings
func (m *Manager) GetSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.settings
}

// SaveSettings saves settings to disk
func (m *Manager) SaveSettings(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = &s
	return m.writeJSON(SettingsFile, s)
}

// ============================================================================
// API KEYS
// ============================================================================

// GetAPIKey returns the key for provider. A stored key wins over the
// provider's environment variable.
func (m *Manager) GetAPIKey(provider string) string {
	m.mu.RLock()
	key := m.credentials.APIKeys[provider]
	m.mu.RUnlock()

	if key != "" {
		return key
	}
	if envVar, ok := providerEnvVars[provider]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// HasAPIKey reports whether a key is available for provider.
func (m *Manager) HasAPIKey(provider string) bool {
	return m.GetAPIKey(provider) != ""
}

// SetAPIKey stores the key for provider.
func (m *Manager) SetAPIKey(provider, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials.APIKeys[provider] = apiKey
	return m.writeJSON(CredentialsFile, m.credentials)
}

// DeleteAPIKey removes the stored key for provider.
func (m *Manager) DeleteAPIKey(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.credentials.APIKeys, provider)
	return m.writeJSON(CredentialsFile, m.credentials)
}

// EnvVarFor returns the environment variable name of provider's key.
func EnvVarFor(provider string) string {
	return providerEnvVars[provider]
}

// writeJSON writes data as JSON to a file
func (m *Manager) writeJSON(filename string, data interface{}) error {
	path := filepath.Join(m.configPath, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, jsonData, 0600) // Restrictive permissions for sensitive data
}

// readJSON reads JSON from a file
func (m *Manager) readJSON(filename string, target interface{}) error {
	path := filepath.Join(m.configPath, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	return json.Unmarshal(data, target)
}
