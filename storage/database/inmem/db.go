package inmemdb

import (
	"context"
	"sync"
)

// Storage is a process-local key/value table. It does not survive restarts and is meant for tests
// and throwaway sessions.
type Storage struct {
	mutex sync.RWMutex
	table map[string]string
}

func Open() *Storage {
	return &Storage{table: make(map[string]string)}
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	val, ok := s.table[key]
	return val, ok, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.table[key] = value
	return nil
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, key := range keys {
		delete(s.table, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *Storage) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.table)
}
