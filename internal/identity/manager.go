package identity

import (
	"context"
	"sync"
	"time"

	"greenbox/internal/cryptographic/sealedbox"
	"greenbox/internal/keystore"
	"greenbox/internal/model"
	"greenbox/internal/utils/log"
	apperrors "greenbox/pkg/errors"

	"go.uber.org/zap"
)

type (
	// Directory is the remote registry of current public keys.
	Directory interface {
		Get(ctx context.Context, id string) (*model.Identity, error)
		Publish(ctx context.Context, ident *model.Identity) error
	}

	// Ledger is the slice of the friendship ledger the rekey cascade needs.
	Ledger interface {
		Invalidate(ctx context.Context, identity string) error
	}

	// EnvelopePurger drops retained envelopes sealed under a superseded key.
	EnvelopePurger interface {
		PurgeForIdentity(ctx context.Context, identity string) error
	}

	Profile struct {
		DisplayName string
		AvatarURL   string
	}

	Result struct {
		// IsNewDevice reports that the identity was re-established on a
		// device without the private key, superseding the previous key
		// generation and resetting friendships.
		IsNewDevice bool
		Keys        sealedbox.KeyPair
	}

	// Manager establishes a device's keypair for an identity before any
	// publish or subscribe runs. Initialization for the same identity is
	// serialized so two concurrent calls cannot race to generate divergent
	// keypairs.
	Manager struct {
		keys      keystore.Store
		directory Directory
		ledger    Ledger
		envelopes EnvelopePurger

		mu    sync.Mutex
		locks map[string]*sync.Mutex
	}
)

func NewManager(keys keystore.Store, directory Directory, ledger Ledger, envelopes EnvelopePurger) *Manager {
	return &Manager{
		keys:      keys,
		directory: directory,
		ledger:    ledger,
		envelopes: envelopes,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Initialize makes the local keypair for the identity valid against the
// directory, generating and publishing one when needed.
//
// Three outcomes:
//   - local key present: nothing to do.
//   - no local key, no directory row: first-ever setup; generate and publish.
//   - no local key, directory row present: the identity moved to this device
//     (or local storage was wiped). A new keypair supersedes the published
//     one, and the invalidation cascade resets friendships to pending and
//     purges retained envelopes, which were sealed under the old key and can
//     never be opened.
//
// Failures surface as an identity-establishment error and abort the session
// start. The cascade is idempotent; a caller retrying after a partial failure
// re-runs it safely.
func (m *Manager) Initialize(ctx context.Context, id string, profile Profile) (*Result, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	priv, ok, err := m.keys.Get(id)
	if err != nil {
		return nil, apperrors.ErrIdentity(err)
	}
	if ok {
		return &Result{
			Keys: sealedbox.KeyPair{Public: sealedbox.PublicFromPrivate(priv), Private: priv},
		}, nil
	}

	remote, err := m.directory.Get(ctx, id)
	if err != nil {
		return nil, apperrors.ErrIdentity(err)
	}

	pair, err := sealedbox.GenerateKeyPair()
	if err != nil {
		return nil, apperrors.ErrIdentity(err)
	}

	if err := m.keys.Put(id, pair.Private); err != nil {
		return nil, apperrors.ErrIdentity(err)
	}

	ident := &model.Identity{
		ID:          id,
		PublicKey:   sealedbox.EncodeKey(pair.Public),
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.directory.Publish(ctx, ident); err != nil {
		m.rollbackLocalKey(id)
		return nil, apperrors.ErrIdentity(err)
	}

	if remote == nil {
		log.Info("identity established", zap.String("identity", id))
		return &Result{Keys: pair}, nil
	}

	// Rekey path: the published key just changed, so every active
	// friendship needs re-acceptance and every retained envelope is
	// undecryptable garbage.
	if err := m.ledger.Invalidate(ctx, id); err != nil {
		m.rollbackLocalKey(id)
		return nil, apperrors.ErrIdentity(err)
	}
	if err := m.envelopes.PurgeForIdentity(ctx, id); err != nil {
		m.rollbackLocalKey(id)
		return nil, apperrors.ErrIdentity(err)
	}

	log.Info("identity rekeyed on new device", zap.String("identity", id))
	return &Result{IsNewDevice: true, Keys: pair}, nil
}

// rollbackLocalKey drops the just-stored private key after a partial
// establishment, so a retry re-enters the full generate-publish-cascade path
// instead of reporting ready with the cascade incomplete. Every step of that
// path is idempotent, which is what makes the retry safe.
func (m *Manager) rollbackLocalKey(id string) {
	if err := m.keys.Delete(id); err != nil {
		log.Error("failed to roll back local key", zap.String("identity", id), zap.Error(err))
	}
}

// RequireLocalKey is the strict variant for callers that treat a missing
// local key as exceptional (e.g. an out-of-band compromise indicator) instead
// of a legitimate device move: it never rekeys, surfacing ErrKeyMismatch when
// the directory has a key this device does not hold.
func (m *Manager) RequireLocalKey(ctx context.Context, id string) (sealedbox.KeyPair, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	priv, ok, err := m.keys.Get(id)
	if err != nil {
		return sealedbox.KeyPair{}, apperrors.ErrIdentity(err)
	}
	if ok {
		return sealedbox.KeyPair{Public: sealedbox.PublicFromPrivate(priv), Private: priv}, nil
	}

	remote, err := m.directory.Get(ctx, id)
	if err != nil {
		return sealedbox.KeyPair{}, apperrors.ErrIdentity(err)
	}
	if remote != nil {
		return sealedbox.KeyPair{}, apperrors.ErrKeyMismatch
	}
	return sealedbox.KeyPair{}, apperrors.ErrIdentityNotFound
}
