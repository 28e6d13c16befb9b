package keystore

import (
	"errors"
	"fmt"

	"greenbox/internal/cryptographic/sealedbox"

	"github.com/99designs/keyring"
)

type (
	// Store is the device-scoped secret store for private keys. A missing
	// key is a normal outcome (first run, new device), not an error.
	Store interface {
		Put(identityID string, priv *[sealedbox.KeySize]byte) error
		Get(identityID string) (*[sealedbox.KeySize]byte, bool, error)
		Delete(identityID string) error
	}

	// KeyringStore keeps private keys in the OS keychain (or its encrypted
	// file fallback) via 99designs/keyring.
	KeyringStore struct {
		ring keyring.Keyring
	}
)

const keyPrefix = "private-key-"

// Open backs the store with the platform keychain under the given service
// name.
func Open(serviceName string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

// NewKeyringStore wraps an already-open keyring; tests pass
// keyring.NewArrayKeyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) Put(identityID string, priv *[sealedbox.KeySize]byte) error {
	return s.ring.Set(keyring.Item{
		Key:   keyPrefix + identityID,
		Data:  priv[:],
		Label: fmt.Sprintf("location sharing key for %s", identityID),
	})
}

func (s *KeyringStore) Get(identityID string) (*[sealedbox.KeySize]byte, bool, error) {
	item, err := s.ring.Get(keyPrefix + identityID)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read keyring: %w", err)
	}

	if len(item.Data) != sealedbox.KeySize {
		return nil, false, fmt.Errorf("stored key has invalid length %d", len(item.Data))
	}
	var priv [sealedbox.KeySize]byte
	copy(priv[:], item.Data)
	return &priv, true, nil
}

func (s *KeyringStore) Delete(identityID string) error {
	err := s.ring.Remove(keyPrefix + identityID)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
