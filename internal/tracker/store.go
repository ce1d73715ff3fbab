package tracker

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Store persists tracker state between runs, keyed by strings such as
// "<usecase>_session_id". A missing key is ok=false, not an error.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemStore is an in-memory Store for tests and throwaway sessions.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func (s *MemStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// FileStore keeps each key in its own file under dir, so a restarted
// process can pick up an in-flight session.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore creates a Store rooted at dir on the given filesystem.
func NewFileStore(filesystem afero.Fs, dir string) (*FileStore, error) {
	if err := filesystem.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{fs: filesystem, dir: dir}, nil
}

// NewOsFileStore creates a FileStore on the real filesystem.
func NewOsFileStore(dir string) (*FileStore, error) {
	return NewFileStore(afero.NewOsFs(), dir)
}

func (s *FileStore) Get(key string) (string, bool, error) {
	raw, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(raw), true, nil
}

func (s *FileStore) Set(key, value string) error {
	return afero.WriteFile(s.fs, s.path(key), []byte(value), 0o644)
}

func (s *FileStore) Delete(key string) error {
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
