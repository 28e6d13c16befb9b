package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"greenbox/internal/cryptographic/sealedbox"
	"greenbox/internal/location"
	"greenbox/internal/model"
	"greenbox/internal/service/relayclient"
	"greenbox/internal/utils/log"
	apperrors "greenbox/pkg/errors"

	"go.uber.org/zap"
)

type (
	Directory interface {
		GetPublicKey(ctx context.Context, id string) (*model.Identity, error)
	}

	Relay interface {
		Publish(ctx context.Context, env *model.LocationEnvelope) error
		Subscribe(ctx context.Context, fn func(*model.LocationEnvelope)) (*relayclient.Subscription, error)
	}

	// ReceivedLocation is one decoded inbound sample plus the sender info
	// resolved from the directory.
	ReceivedLocation struct {
		model.LocationSample
		SenderID   string
		SenderName string
		ReceivedAt time.Time
	}

	Config struct {
		Identity string
		FriendID string
		Keys     sealedbox.KeyPair

		Relay     Relay
		Directory Directory
		Source    location.Source
	}

	// Session wires location samples through seal-and-publish and routes
	// inbound envelopes back through open-and-resolve. It owns its relay
	// subscription, key material, and caches; tearing it down releases
	// everything.
	//
	// Start must only run after identity establishment completed; the
	// private key is read-only from then on, so the decrypt path needs no
	// locking.
	Session struct {
		identity string
		friendID string
		keys     sealedbox.KeyPair

		relay     Relay
		directory Directory
		source    location.Source

		ctx       context.Context
		stopWatch func()
		sub       *relayclient.Subscription

		mu        sync.RWMutex
		friendKey *[sealedbox.KeySize]byte
		current   *model.LocationSample
		latest    map[string]ReceivedLocation
	}
)

func New(cfg Config) *Session {
	return &Session{
		identity:  cfg.Identity,
		friendID:  cfg.FriendID,
		keys:      cfg.Keys,
		relay:     cfg.Relay,
		directory: cfg.Directory,
		source:    cfg.Source,
		latest:    make(map[string]ReceivedLocation),
	}
}

func (s *Session) Start(ctx context.Context) error {
	s.ctx = ctx

	sub, err := s.relay.Subscribe(ctx, s.handleEnvelope)
	if err != nil {
		return err
	}
	s.sub = sub

	stop, err := s.source.Watch(ctx, s.handleSample)
	if err != nil {
		s.sub.Close()
		return err
	}
	s.stopWatch = stop

	return nil
}

// Stop releases the watch and the push subscription. Safe on a session that
// never started.
func (s *Session) Stop() {
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.sub.Close()
}

// handleSample is the outbound path: seal to the friend's current key and
// publish, fire-and-forget. Failures are dropped, not retried; samples are
// perishable and the next one supersedes this one.
func (s *Session) handleSample(sample model.LocationSample) {
	s.mu.Lock()
	s.current = &sample
	s.mu.Unlock()

	key, err := s.friendPublicKey()
	if err != nil {
		log.Error("friend key lookup failed", zap.Error(err))
		return
	}
	if key == nil {
		// No partner yet; nothing to send.
		return
	}

	ciphertext, err := sealedbox.Seal(sample, key)
	if err != nil {
		log.Error("seal sample failed", zap.Error(err))
		return
	}

	err = s.relay.Publish(s.ctx, &model.LocationEnvelope{
		SenderID:    s.identity,
		RecipientID: s.friendID,
		Payload:     ciphertext,
	})
	if errors.Is(err, apperrors.ErrAuthorizationDenied) {
		log.Info("publish rejected, sharing is not active",
			zap.String("friend", s.friendID))
		return
	}
	if err != nil {
		log.Error("publish failed", zap.Error(err))
	}
}

// handleEnvelope is the inbound path. A single corrupt or stale envelope is
// dropped and the stream continues.
func (s *Session) handleEnvelope(env *model.LocationEnvelope) {
	sample, err := sealedbox.Open(env.Payload, s.keys)
	if err != nil {
		log.Debug("dropping undecryptable envelope",
			zap.String("sender", env.SenderID), zap.Error(err))
		return
	}

	name := ""
	if ident, err := s.directory.GetPublicKey(s.ctx, env.SenderID); err == nil && ident != nil {
		name = ident.DisplayName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[env.SenderID]; ok && sample.Timestamp.Before(prev.Timestamp) {
		return
	}
	s.latest[env.SenderID] = ReceivedLocation{
		LocationSample: sample,
		SenderID:       env.SenderID,
		SenderName:     name,
		ReceivedAt:     time.Now(),
	}
}

// friendPublicKey resolves the partner's current public key, cached for the
// session. A directory miss is not an error: the partner simply has not
// published yet.
func (s *Session) friendPublicKey() (*[sealedbox.KeySize]byte, error) {
	s.mu.RLock()
	key := s.friendKey
	s.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	ident, err := s.directory.GetPublicKey(s.ctx, s.friendID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, nil
	}

	key, err = sealedbox.DecodeKey(ident.PublicKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.friendKey = key
	s.mu.Unlock()
	return key, nil
}

// RefreshFriendKey drops the cached partner key so the next sample re-reads
// the directory. Call it when a friendship transitions: the partner may have
// rekeyed.
func (s *Session) RefreshFriendKey() {
	s.mu.Lock()
	s.friendKey = nil
	s.mu.Unlock()
}

func (s *Session) CurrentLocation() *model.LocationSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Latest returns the most recent decoded record from one sender.
func (s *Session) Latest(senderID string) (ReceivedLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.latest[senderID]
	return loc, ok
}

// LatestAll snapshots the most recent record per sender.
func (s *Session) LatestAll() map[string]ReceivedLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ReceivedLocation, len(s.latest))
	for id, loc := range s.latest {
		out[id] = loc
	}
	return out
}
