package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

// settingsKey is the row the runtime settings live under.
const settingsKey = "app_settings"

// Store is the key/value table the manager persists to.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Settings are the knobs that can change without a restart.
type Settings struct {
	// Stream freshness window
	TTLHours int `json:"ttl_hours"`

	// Release heuristics
	Patterns release.Patterns `json:"patterns"`
}

// Validate checks the settings and returns the compiled rules.
func (s Settings) Validate() (*release.Rules, error) {
	if s.TTLHours <= 0 {
		return nil, fmt.Errorf("ttl_hours must be positive: %w", models.ErrInvalidInput)
	}
	return release.Compile(s.Patterns)
}

// Manager holds the current runtime settings and their compiled rules.
// It satisfies release.Provider and the stream service's TTL source, so
// updates apply to the next lookup.
type Manager struct {
	store    Store
	config   Settings
	mu       sync.RWMutex
	settings Settings
	rules    *release.Rules
}

// NewManager starts from defaults; call Load to pick up persisted values.
func NewManager(store Store, defaults Settings) (*Manager, error) {
	rules, err := defaults.Validate()
	if err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	return &Manager{store: store, config: defaults, settings: defaults, rules: rules}, nil
}

// Load reads persisted settings over the defaults. With nothing persisted
// the defaults are saved.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok, err := m.store.Get(ctx, settingsKey)
	if err != nil {
		return err
	}
	if !ok {
		return m.saveLocked(ctx, m.settings)
	}

	// Unmarshal over the defaults so fields missing from the row keep them.
	next := m.settings
	if err := json.Unmarshal([]byte(raw), &next); err != nil {
		return fmt.Errorf("parse settings: %w: %v", models.ErrStoreUnavailable, err)
	}
	rules, err := next.Validate()
	if err != nil {
		return fmt.Errorf("persisted settings: %w", err)
	}
	m.settings, m.rules = next, rules
	return nil
}

// ConfigOverrides names the settings whose persisted value differs from the
// defaults the manager was built with. Persisted values win, so an edit to
// the config file has no effect on these until the row is updated.
func (m *Manager) ConfigOverrides() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	if m.settings.TTLHours != m.config.TTLHours {
		out = append(out, "ttl_hours")
	}
	if !reflect.DeepEqual(m.settings.Patterns, m.config.Patterns) {
		out = append(out, "patterns")
	}
	return out
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update validates, persists and applies new settings. Invalid settings
// leave the current ones untouched.
func (m *Manager) Update(ctx context.Context, next Settings) error {
	rules, err := next.Validate()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(ctx, next); err != nil {
		return err
	}
	m.settings, m.rules = next, rules
	return nil
}

// UpdatePartial applies a JSON object of changed fields over the current
// settings.
func (m *Manager) UpdatePartial(ctx context.Context, updates map[string]any) error {
	current := m.Get()

	merged := map[string]any{}
	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &merged); err != nil {
		return err
	}
	for key, value := range updates {
		merged[key] = value
	}

	data, err = json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode settings: %w: %v", models.ErrInvalidInput, err)
	}
	var next Settings
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("decode settings: %w: %v", models.ErrInvalidInput, err)
	}
	return m.Update(ctx, next)
}

func (m *Manager) saveLocked(ctx context.Context, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return m.store.Set(ctx, settingsKey, string(data))
}

// Rules returns the compiled rule set in effect.
func (m *Manager) Rules() *release.Rules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

func (m *Manager) StreamTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.settings.TTLHours) * time.Hour
}
