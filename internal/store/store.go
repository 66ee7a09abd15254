// Package store is the persistent key-value store used for receiver and mode
// preferences. Keys live in named namespaces; values are unsigned integers or
// short byte strings.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Namespace reads and writes the keys of one namespace. Getters report false
// when the key is missing or holds a value of another kind.
type Namespace interface {
	Uint32(key string) (uint32, bool)
	PutUint32(key string, v uint32) error
	Uint8(key string) (uint8, bool)
	PutUint8(key string, v uint8) error
	Bytes(key string) ([]byte, bool)
	PutBytes(key string, v []byte) error
	Remove(key string) error
}

// Store holds every namespace. With a path, each write rewrites the YAML file
// atomically; without one it is memory only.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]string
}

// NewMemory returns a store that never touches disk.
func NewMemory() *Store {
	return &Store{data: make(map[string]map[string]string)}
}

// Open loads path if it exists. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]map[string]string)}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := yaml.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[string]string)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Namespace returns a handle on name. Handles are cheap and share the store.
func (s *Store) Namespace(name string) Namespace {
	return &namespace{s: s, name: name}
}

func (s *Store) get(ns, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[ns]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

func (s *Store) put(ns, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[ns]
	if !ok {
		m = make(map[string]string)
		s.data[ns] = m
	}
	old, had := m[key]
	if had && old == value {
		return nil
	}
	m[key] = value
	if err := s.saveLocked(); err != nil {
		if had {
			m[key] = old
		} else {
			delete(m, key)
		}
		return err
	}
	return nil
}

func (s *Store) remove(ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[ns]
	if !ok {
		return nil
	}
	old, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	if err := s.saveLocked(); err != nil {
		m[key] = old
		return err
	}
	return nil
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := yaml.Marshal(s.data)
	if err != nil {
		return err
	}

	// Temp file in the same directory so the rename is atomic.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

type namespace struct {
	s    *Store
	name string
}

func (n *namespace) uint(key string, bits int) (uint64, bool) {
	v, ok := n.s.get(n.name, key)
	if !ok {
		return 0, false
	}
	u, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return 0, false
	}
	return u, true
}

func (n *namespace) Uint32(key string) (uint32, bool) {
	u, ok := n.uint(key, 32)
	return uint32(u), ok
}

func (n *namespace) PutUint32(key string, v uint32) error {
	return n.s.put(n.name, key, strconv.FormatUint(uint64(v), 10))
}

func (n *namespace) Uint8(key string) (uint8, bool) {
	u, ok := n.uint(key, 8)
	return uint8(u), ok
}

func (n *namespace) PutUint8(key string, v uint8) error {
	return n.s.put(n.name, key, strconv.FormatUint(uint64(v), 10))
}

func (n *namespace) Bytes(key string) ([]byte, bool) {
	v, ok := n.s.get(n.name, key)
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (n *namespace) PutBytes(key string, v []byte) error {
	return n.s.put(n.name, key, hex.EncodeToString(v))
}

func (n *namespace) Remove(key string) error {
	return n.s.remove(n.name, key)
}
