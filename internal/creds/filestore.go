package creds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the credential mapping in a single YAML file. Every
// mutation reads the file, changes one entry and rewrites the whole file,
// mirroring how an account-data blob store behaves. The mutex serialises
// writers within this process; cross-process coordination is out of scope.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore persisting to the given path. The file
// is created on first write; a missing file reads as an empty mapping.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("creds: file store path must not be empty")
	}
	return &FileStore{path: path}, nil
}

// Get returns the credential for identity. Records that fail validation are
// treated as absent — a half-written or hand-edited entry must not wedge
// the identity's login forever.
func (s *FileStore) Get(_ context.Context, identity string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Credential{}, err
	}
	cred, ok := all[identity]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("creds: stored credential for %s is invalid: %w", identity, err)
	}
	return cred, nil
}

// Put stores or replaces the credential for identity.
func (s *FileStore) Put(_ context.Context, identity string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	all[identity] = cred
	return s.save(all)
}

// Delete removes the credential for identity.
func (s *FileStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[identity]; !ok {
		return nil
	}
	delete(all, identity)
	return s.save(all)
}

func (s *FileStore) load() (map[string]Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creds: read %q: %w", s.path, err)
	}

	all := map[string]Credential{}
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("creds: parse %q: %w", s.path, err)
	}
	return all, nil
}

// save writes the whole mapping atomically via a temp file rename, with
// owner-only permissions since secrets live here.
func (s *FileStore) save(all map[string]Credential) error {
	data, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("creds: marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".creds-*.yaml")
	if err != nil {
		return fmt.Errorf("creds: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("creds: write %q: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("creds: chmod %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("creds: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("creds: replace %q: %w", s.path, err)
	}
	return nil
}
