package preset

import (
	"context"
	"sync"
)

// MemoryStore keeps presets in process memory. Used when no database path is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	presets map[string]VoicePreset
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{presets: make(map[string]VoicePreset)}
}

func (m *MemoryStore) Load(_ context.Context, voiceID string) (VoicePreset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[voiceID]
	return p, ok, nil
}

func (m *MemoryStore) LoadAll(_ context.Context) (map[string]VoicePreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]VoicePreset, len(m.presets))
	for id, p := range m.presets {
		out[id] = p
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, voiceID string, p VoicePreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[voiceID] = p
	return nil
}

func (m *MemoryStore) Close() error { return nil }
