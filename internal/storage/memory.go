package storage

import (
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// Memory keeps values in a map. Values other than strings and byte slices
// are stored in their JSON-normalised form, so callers never share state
// with the storage.
type Memory struct {
	*component.Base

	mu     sync.RWMutex
	values map[string]any
	subs   map[string]*Memory
}

var _ framework.Storage = (*Memory)(nil)

func NewMemory(d *config.Descriptor, opts ...component.Option) (*Memory, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeStorage)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Memory{Base: b, values: make(map[string]any), subs: make(map[string]*Memory)}, nil
}

func (m *Memory) Get(key string) (any, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err = copyValue(v)
	return v, true, err
}

func (m *Memory) GetOrDefault(key string, def any) (any, error) {
	return getOrDefault(m, key, def)
}

func (m *Memory) Put(key string, value any) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	v, err := copyValue(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) (any, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	delete(m.values, key)
	return v, nil
}

func (m *Memory) SubStorage(key string) (framework.Storage, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[key]; ok {
		return sub, nil
	}
	sub, err := NewMemory(m.Config(), component.WithLogger(m.Logger()), component.WithClock(m.Clock()))
	if err != nil {
		return nil, err
	}
	sub.ConfigContext(m.Context())
	m.subs[key] = sub
	return sub, nil
}

func (m *Memory) RemoveSubStorage(key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[key]; !ok {
		return false, nil
	}
	delete(m.subs, key)
	return true, nil
}

func copyValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string:
		return t, nil
	case []byte:
		return append([]byte(nil), t...), nil
	default:
		return jsonx.Normalize(t)
	}
}
