package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Storage persists entries as a small JSON object in a single file, rewritten atomically on every change.
type Storage struct {
	path  string
	mutex sync.Mutex
}

func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("file storage: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "creating storage directory")
	}
	return &Storage{path: path}, nil
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := s.read()
	if err != nil {
		return "", false, err
	}
	val, ok := entries[key]
	return val, ok, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = value
	return s.write(entries)
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	var changed bool
	for _, key := range keys {
		if _, ok := entries[key]; ok {
			delete(entries, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.write(entries)
}

func (s *Storage) read() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", s.path)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", s.path)
	}
	return entries, nil
}

func (s *Storage) write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding entries")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), s.path), "replacing %s", s.path)
}
