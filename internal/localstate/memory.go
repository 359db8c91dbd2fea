package localstate

import (
	"context"
	"sync"
)

type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]string{}}
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[namespace] == nil {
		m.data[namespace] = map[string]string{}
	}
	m.data[namespace][key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}
