package sealedbox

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"greenbox/internal/model"
	apperrors "greenbox/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/nacl/box"
)

func TestSealOpenRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	sample := model.LocationSample{
		Latitude:  37.7749,
		Longitude: -122.4194,
		Timestamp: time.Unix(1700000000, 0),
		Accuracy:  10,
	}

	ciphertext, err := Seal(sample, keys.Public)
	require.NoError(t, err)

	got, err := Open(ciphertext, keys)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestSealTruncatesTimestampToSeconds(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	sample := model.LocationSample{
		Latitude:  1,
		Longitude: 2,
		Timestamp: time.Unix(1700000000, 999_000_000),
		Accuracy:  3,
	}

	ciphertext, err := Seal(sample, keys.Public)
	require.NoError(t, err)

	got, err := Open(ciphertext, keys)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), got.Timestamp)
}

func TestOpenDefaultsMissingAccuracy(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	// Payload without an acc field, the way older senders wrote it.
	plain, err := json.Marshal(map[string]any{
		"lat": 37.7749,
		"lon": -122.4194,
		"ts":  int64(1700000000),
	})
	require.NoError(t, err)

	ciphertext, err := box.SealAnonymous(nil, plain, keys.Public, rand.Reader)
	require.NoError(t, err)

	got, err := Open(ciphertext, keys)
	require.NoError(t, err)
	assert.Zero(t, got.Accuracy)
}

func TestSealIsRandomized(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	sample := model.LocationSample{Latitude: 1, Longitude: 2, Timestamp: time.Unix(0, 0)}

	a, err := Seal(sample, keys.Public)
	require.NoError(t, err)
	b, err := Seal(sample, keys.Public)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpenWrongKeyFails(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	sample := model.LocationSample{Latitude: 1, Longitude: 2, Timestamp: time.Unix(1700000000, 0)}

	ciphertext, err := Seal(sample, alice.Public)
	require.NoError(t, err)

	_, err = Open(ciphertext, bob)
	assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
}

func TestOpenMalformedCiphertextFails(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	sample := model.LocationSample{Latitude: 1, Longitude: 2, Timestamp: time.Unix(1700000000, 0)}
	ciphertext, err := Seal(sample, keys.Public)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     {},
		"truncated": ciphertext[:len(ciphertext)-1],
		"flipped": func() []byte {
			cp := append([]byte(nil), ciphertext...)
			cp[len(cp)/2] ^= 0xff
			return cp
		}(),
	}

	for name, ct := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Open(ct, keys)
			assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
		})
	}
}

func TestKeyEncoding(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := DecodeKey(EncodeKey(keys.Public))
	require.NoError(t, err)
	assert.Equal(t, keys.Public, decoded)

	_, err = DecodeKey("not base64!!")
	assert.Error(t, err)

	_, err = DecodeKey("c2hvcnQ")
	assert.Error(t, err)
}

func TestPublicFromPrivate(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Equal(t, keys.Public, PublicFromPrivate(keys.Private))
}

func TestOpenNonJSONPlaintextFails(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := box.SealAnonymous(nil, []byte("not json"), keys.Public, rand.Reader)
	require.NoError(t, err)

	_, err = Open(ciphertext, keys)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeInvalidArgument, appErr.Code)
}
