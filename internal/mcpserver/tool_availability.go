package mcpserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const (
	ToolAvailabilityFile = "mcp_tool_availability.json"
)

// ToolAvailability maps tool names to whether the agent may call them.
type ToolAvailability map[string]bool

// ToolAvailabilityManager handles loading and saving tool availability settings
type ToolAvailabilityManager struct {
	configPath   string
	availability ToolAvailability
	mu           sync.RWMutex
}

// NewToolAvailabilityManager creates a new manager for tool availability
func NewToolAvailabilityManager(configPath string) *ToolAvailabilityManager {
	m := &ToolAvailabilityManager{
		configPath:   configPath,
		availability: DefaultToolAvailability(),
	}
	_ = m.load()
	return m
}

// DefaultToolAvailability enables every tool.
func DefaultToolAvailability() ToolAvailability {
	ta := make(ToolAvailability, len(ToolNames))
	for _, name := range ToolNames {
		ta[name] = true
	}
	return ta
}

// GetAvailability returns a copy of the current settings.
func (m *ToolAvailabilityManager) GetAvailability() ToolAvailability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(ToolAvailability, len(m.availability))
	for k, v := range m.availability {
		out[k] = v
	}
	return out
}

// IsEnabled checks if a specific tool is enabled. Unknown tools are not.
func (m *ToolAvailabilityManager) IsEnabled(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availability[toolName]
}

// SetEnabled enables or disables one tool and saves.
func (m *ToolAvailabilityManager) SetEnabled(toolName string, enabled bool) error {
	if !slices.Contains(ToolNames, toolName) {
		return fmt.Errorf("unknown tool %q", toolName)
	}
	ta := m.GetAvailability()
	ta[toolName] = enabled
	return m.SaveAvailability(ta)
}

// SaveAvailability saves tool availability settings to disk
func (m *ToolAvailabilityManager) SaveAvailability(ta ToolAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.availability = ta

	if m.configPath == "" {
		return nil
	}
	if err := os.MkdirAll(m.configPath, 0755); err != nil {
		return err
	}

	path := filepath.Join(m.configPath, ToolAvailabilityFile)
	data, err := json.MarshalIndent(ta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ResetToDefaults resets availability to default values and saves
func (m *ToolAvailabilityManager) ResetToDefaults() error {
	return m.SaveAvailability(DefaultToolAvailability())
}

// load reads availability settings from disk. Tools missing from the file
// keep their default.
func (m *ToolAvailabilityManager) load() error {
	if m.configPath == "" {
		return nil
	}
	path := filepath.Join(m.configPath, ToolAvailabilityFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var ta ToolAvailability
	if err := json.Unmarshal(data, &ta); err != nil {
		return err
	}

	merged := DefaultToolAvailability()
	for k, v := range ta {
		if _, known := merged[k]; known {
			merged[k] = v
		}
	}
	m.availability = merged
	return nil
}
