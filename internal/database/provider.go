package database

import (
	"errors"
	"fmt"
	"sync"
)

// Stores bundles the repositories a storage backend provides.
type Stores struct {
	Identities IdentityWriter
	Audit      AuditStore
	Sessions   SessionStore
	OTPs       OTPStore
	Failures   FailureStore
}

// Validate returns an error naming the first missing repository.
func (s Stores) Validate() error {
	switch {
	case s.Identities == nil:
		return errors.New("identity store not configured")
	case s.Audit == nil:
		return errors.New("audit store not configured")
	case s.Sessions == nil:
		return errors.New("session store not configured")
	case s.OTPs == nil:
		return errors.New("otp store not configured")
	case s.Failures == nil:
		return errors.New("failure store not configured")
	}
	return nil
}

var (
	backendMu      sync.RWMutex
	backendStores  func() Stores
	backendEnabled bool
)

// RegisterBackend registers the constructor of the active storage backend.
// This is called by the postgres package to avoid import cycles.
func RegisterBackend(stores func() Stores) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendStores = stores
	backendEnabled = stores != nil
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendEnabled
}

// GetStores returns the repositories of the registered backend.
func GetStores() (Stores, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if !backendEnabled {
		return Stores{}, errors.New("storage backend not initialized: DATABASE_URL is required")
	}
	s := backendStores()
	if err := s.Validate(); err != nil {
		return Stores{}, fmt.Errorf("storage backend: %w", err)
	}
	return s, nil
}
