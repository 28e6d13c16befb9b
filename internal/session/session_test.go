package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"greenbox/internal/cryptographic/sealedbox"
	"greenbox/internal/model"
	"greenbox/internal/service/relayclient"
	apperrors "greenbox/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu         sync.Mutex
	published  []*model.LocationEnvelope
	publishErr error
	inbound    func(*model.LocationEnvelope)
}

func (r *fakeRelay) Publish(ctx context.Context, env *model.LocationEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.published = append(r.published, env)
	return nil
}

func (r *fakeRelay) Subscribe(ctx context.Context, fn func(*model.LocationEnvelope)) (*relayclient.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = fn
	return &relayclient.Subscription{}, nil
}

func (r *fakeRelay) deliver(env *model.LocationEnvelope) {
	r.mu.Lock()
	fn := r.inbound
	r.mu.Unlock()
	fn(env)
}

func (r *fakeRelay) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

type fakeDirectory map[string]*model.Identity

func (d fakeDirectory) GetPublicKey(ctx context.Context, id string) (*model.Identity, error) {
	return d[id], nil
}

type fakeSource struct {
	mu sync.Mutex
	fn func(model.LocationSample)
}

func (s *fakeSource) Watch(ctx context.Context, fn func(model.LocationSample)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return func() {}, nil
}

func (s *fakeSource) fire(sample model.LocationSample) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(sample)
}

type fixture struct {
	session *Session
	relay   *fakeRelay
	source  *fakeSource
	keys    sealedbox.KeyPair
}

func newFixture(t *testing.T, identity, friend string, directory fakeDirectory) *fixture {
	t.Helper()

	keys, err := sealedbox.GenerateKeyPair()
	require.NoError(t, err)

	relay := &fakeRelay{}
	source := &fakeSource{}

	sess := New(Config{
		Identity:  identity,
		FriendID:  friend,
		Keys:      keys,
		Relay:     relay,
		Directory: directory,
		Source:    source,
	})
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)

	return &fixture{session: sess, relay: relay, source: source, keys: keys}
}

func sampleAt(ts int64) model.LocationSample {
	return model.LocationSample{
		Latitude:  37.7749,
		Longitude: -122.4194,
		Timestamp: time.Unix(ts, 0),
		Accuracy:  10,
	}
}

func TestOutboundSealsToFriendKey(t *testing.T) {
	friendKeys, err := sealedbox.GenerateKeyPair()
	require.NoError(t, err)

	f := newFixture(t, "alice", "bob", fakeDirectory{
		"bob": {ID: "bob", PublicKey: sealedbox.EncodeKey(friendKeys.Public)},
	})

	sample := sampleAt(1700000000)
	f.source.fire(sample)

	require.Equal(t, 1, f.relay.publishedCount())
	env := f.relay.published[0]
	assert.Equal(t, "alice", env.SenderID)
	assert.Equal(t, "bob", env.RecipientID)

	// Only bob can open it, and it round-trips exactly.
	got, err := sealedbox.Open(env.Payload, friendKeys)
	require.NoError(t, err)
	assert.Equal(t, sample, got)

	_, err = sealedbox.Open(env.Payload, f.keys)
	assert.Error(t, err)

	assert.Equal(t, &sample, f.session.CurrentLocation())
}

func TestOutboundSkipsWhenNoPartnerPublished(t *testing.T) {
	f := newFixture(t, "alice", "bob", fakeDirectory{})

	f.source.fire(sampleAt(1700000000))

	assert.Zero(t, f.relay.publishedCount())
	// The sample is still tracked locally.
	assert.NotNil(t, f.session.CurrentLocation())
}

func TestOutboundDropsOnAuthorizationDenied(t *testing.T) {
	friendKeys, err := sealedbox.GenerateKeyPair()
	require.NoError(t, err)

	f := newFixture(t, "alice", "bob", fakeDirectory{
		"bob": {ID: "bob", PublicKey: sealedbox.EncodeKey(friendKeys.Public)},
	})
	f.relay.publishErr = apperrors.ErrAuthorizationDenied

	// Dropped, not retried; the stream keeps going.
	f.source.fire(sampleAt(1700000000))
	f.source.fire(sampleAt(1700000010))

	assert.Zero(t, f.relay.publishedCount())
}

func TestInboundUpdatesLatestPerSender(t *testing.T) {
	f := newFixture(t, "bob", "alice", fakeDirectory{
		"alice": {ID: "alice", PublicKey: "pk", DisplayName: "Alice"},
	})

	sample := sampleAt(1700000000)
	ciphertext, err := sealedbox.Seal(sample, f.keys.Public)
	require.NoError(t, err)

	f.relay.deliver(&model.LocationEnvelope{
		SenderID:    "alice",
		RecipientID: "bob",
		Payload:     ciphertext,
	})

	got, ok := f.session.Latest("alice")
	require.True(t, ok)
	assert.Equal(t, sample, got.LocationSample)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "Alice", got.SenderName)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestInboundDropsUndecryptableEnvelope(t *testing.T) {
	f := newFixture(t, "bob", "alice", fakeDirectory{})

	f.relay.deliver(&model.LocationEnvelope{
		SenderID:    "alice",
		RecipientID: "bob",
		Payload:     []byte("garbage"),
	})

	_, ok := f.session.Latest("alice")
	assert.False(t, ok)

	// A good envelope afterwards still lands; one corrupt message never
	// halts the stream.
	sample := sampleAt(1700000000)
	ciphertext, err := sealedbox.Seal(sample, f.keys.Public)
	require.NoError(t, err)
	f.relay.deliver(&model.LocationEnvelope{SenderID: "alice", RecipientID: "bob", Payload: ciphertext})

	got, ok := f.session.Latest("alice")
	require.True(t, ok)
	assert.Equal(t, sample, got.LocationSample)
}

func TestInboundMostRecentWins(t *testing.T) {
	f := newFixture(t, "bob", "alice", fakeDirectory{})

	newer := sampleAt(1700000100)
	older := sampleAt(1700000000)

	for _, sample := range []model.LocationSample{newer, older} {
		ciphertext, err := sealedbox.Seal(sample, f.keys.Public)
		require.NoError(t, err)
		f.relay.deliver(&model.LocationEnvelope{SenderID: "alice", RecipientID: "bob", Payload: ciphertext})
	}

	got, ok := f.session.Latest("alice")
	require.True(t, ok)
	assert.Equal(t, newer, got.LocationSample)
}

func TestLatestAllSnapshotsPerSender(t *testing.T) {
	f := newFixture(t, "bob", "alice", fakeDirectory{})

	for i, sender := range []string{"alice", "carol"} {
		sample := sampleAt(1700000000 + int64(i))
		ciphertext, err := sealedbox.Seal(sample, f.keys.Public)
		require.NoError(t, err)
		f.relay.deliver(&model.LocationEnvelope{SenderID: sender, RecipientID: "bob", Payload: ciphertext})
	}

	all := f.session.LatestAll()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "alice")
	assert.Contains(t, all, "carol")
}

func TestRefreshFriendKeyRereadsDirectory(t *testing.T) {
	oldKeys, err := sealedbox.GenerateKeyPair()
	require.NoError(t, err)
	newKeys, err := sealedbox.GenerateKeyPair()
	require.NoError(t, err)

	directory := fakeDirectory{
		"bob": {ID: "bob", PublicKey: sealedbox.EncodeKey(oldKeys.Public)},
	}
	f := newFixture(t, "alice", "bob", directory)

	f.source.fire(sampleAt(1700000000))
	require.Equal(t, 1, f.relay.publishedCount())

	// Bob rekeyed; without a refresh the cached key would still be used.
	directory["bob"] = &model.Identity{ID: "bob", PublicKey: sealedbox.EncodeKey(newKeys.Public)}
	f.session.RefreshFriendKey()

	f.source.fire(sampleAt(1700000010))
	require.Equal(t, 2, f.relay.publishedCount())

	_, err = sealedbox.Open(f.relay.published[1].Payload, newKeys)
	assert.NoError(t, err)
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	sess := New(Config{Identity: "alice", FriendID: "bob"})
	sess.Stop()
	sess.Stop()
}
