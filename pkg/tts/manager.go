package tts

import (
	"context"
	"fmt"
	"sync"
)

// Engine synthesizes speech and writes a WAV file to outputPath.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, voice, outputPath string) error
}

// Manager selects a synthesis engine by name. The active engine may be
// switched at runtime while calls are synthesizing.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]Engine
	active  string
}

func NewManager() *Manager {
	return &Manager{engines: make(map[string]Engine)}
}

// Register adds an engine. The first registered engine becomes active.
func (m *Manager) Register(e Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines[e.Name()] = e
	if m.active == "" {
		m.active = e.Name()
	}
}

// SetActive switches the active engine.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[name]; !ok {
		return fmt.Errorf("unknown TTS engine: %s", name)
	}
	m.active = name
	return nil
}

// Active returns the active engine name.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Synthesize runs the active engine.
func (m *Manager) Synthesize(ctx context.Context, text, voice, outputPath string) error {
	m.mu.RLock()
	engine, ok := m.engines[m.active]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no TTS engine registered")
	}
	return engine.Synthesize(ctx, text, voice, outputPath)
}
