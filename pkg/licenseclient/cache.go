package licenseclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CachedCredential is the client-local record of a successful activation.
// LastOnlineValidationAt advances only on a successful online check; mere
// offline attempts never move it, which is what bounds the grace window.
type CachedCredential struct {
	ActivationToken        string     `json:"activation_token"`
	Tier                   string     `json:"tier"`
	Features               []string   `json:"features"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	LastOnlineValidationAt time.Time  `json:"last_online_validation_at"`
}

// CredentialStore persists the cached credential between application
// starts. Load returns (nil, nil) when no credential exists.
type CredentialStore interface {
	Load() (*CachedCredential, error)
	Save(*CachedCredential) error
	Clear() error
}

// FileStore keeps the credential as a JSON file in the application's
// config directory.
type FileStore struct {
	path string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "credential.json")}, nil
}

func (s *FileStore) Load() (*CachedCredential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}

	var cred CachedCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	return &cred, nil
}

func (s *FileStore) Save(cred *CachedCredential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory CredentialStore for tests.
type MemoryStore struct {
	cred *CachedCredential
}

func (m *MemoryStore) Load() (*CachedCredential, error) {
	if m.cred == nil {
		return nil, nil
	}
	cp := *m.cred
	return &cp, nil
}

func (m *MemoryStore) Save(cred *CachedCredential) error {
	cp := *cred
	m.cred = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.cred = nil
	return nil
}
