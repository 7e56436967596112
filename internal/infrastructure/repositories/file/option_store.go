package file

import (
	"context"
	"os"
	"sync"
	"time"

	"rendezlink/internal/core/ports"
)

// OptionStore keeps options in a YAML map. The file is re-read whenever its
// modification time changes, so edits made by other processes are picked up.
type OptionStore struct {
	path string

	mu      sync.Mutex
	options map[string]string
	loaded  time.Time
}

func NewOptionStore(path string) ports.OptionStore {
	return &OptionStore{path: path, options: map[string]string{}}
}

func (s *OptionStore) GetOption(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return "", err
	}
	return s.options[key], nil
}

// SetOption persists value; an empty value removes the key.
func (s *OptionStore) SetOption(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(); err != nil {
		return err
	}

	next := make(map[string]string, len(s.options)+1)
	for k, v := range s.options {
		next[k] = v
	}
	if value == "" {
		delete(next, key)
	} else {
		next[key] = value
	}

	if err := writeYAML(s.path, next); err != nil {
		return err
	}
	s.options = next
	if info, err := os.Stat(s.path); err == nil {
		s.loaded = info.ModTime()
	}
	return nil
}

func (s *OptionStore) refreshLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.options = map[string]string{}
		s.loaded = time.Time{}
		return nil
	}
	if err != nil {
		return err
	}
	if info.ModTime().Equal(s.loaded) {
		return nil
	}

	options := map[string]string{}
	if _, err := readYAML(s.path, &options); err != nil {
		return err
	}
	s.options = options
	s.loaded = info.ModTime()
	return nil
}
