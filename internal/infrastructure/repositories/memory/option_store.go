package memory

import (
	"context"
	"sync"

	"rendezlink/internal/core/ports"
)

type MemoryOptionStore struct {
	options map[string]string
	mu      sync.RWMutex
}

func NewMemoryOptionStore(initial map[string]string) ports.OptionStore {
	options := make(map[string]string, len(initial))
	for k, v := range initial {
		options[k] = v
	}
	return &MemoryOptionStore{options: options}
}

func (s *MemoryOptionStore) GetOption(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options[key], nil
}

// SetOption stores value; an empty value removes the key.
func (s *MemoryOptionStore) SetOption(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		delete(s.options, key)
		return nil
	}
	s.options[key] = value
	return nil
}
