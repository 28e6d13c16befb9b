package sealedbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"greenbox/internal/model"
	apperrors "greenbox/pkg/errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of both halves of a device keypair.
const KeySize = 32

type (
	KeyPair struct {
		Public  *[KeySize]byte
		Private *[KeySize]byte
	}

	// payload is the canonical compact form sealed into an envelope:
	// whole-second unix timestamp, accuracy defaulting to 0.
	payload struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Ts  int64   `json:"ts"`
		Acc float64 `json:"acc,omitempty"`
	}
)

// GenerateKeyPair produces a fresh X25519 keypair for anonymous sealed-box
// encryption.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// PublicFromPrivate recovers the public half of a stored private key.
func PublicFromPrivate(priv *[KeySize]byte) *[KeySize]byte {
	var pub [KeySize]byte
	curve25519.ScalarBaseMult(&pub, priv)
	return &pub
}

// Seal encrypts a sample so that only the holder of the matching private key
// can recover it. The ciphertext carries no sender identity; authenticating
// the sender is the relay boundary's job. Fresh randomness per call.
func Seal(sample model.LocationSample, recipientPub *[KeySize]byte) ([]byte, error) {
	data, err := json.Marshal(payload{
		Lat: sample.Latitude,
		Lon: sample.Longitude,
		Ts:  sample.Timestamp.Unix(),
		Acc: sample.Accuracy,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to seal location payload", err)
	}

	ciphertext, err := box.SealAnonymous(nil, data, recipientPub, rand.Reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to seal location payload", err)
	}
	return ciphertext, nil
}

// Open recovers the sample from a sealed payload. Malformed, truncated, or
// wrong-key ciphertexts all fail the same way; there is no partial decrypt.
func Open(ciphertext []byte, keys KeyPair) (model.LocationSample, error) {
	plain, ok := box.OpenAnonymous(nil, ciphertext, keys.Public, keys.Private)
	if !ok {
		return model.LocationSample{}, apperrors.ErrDecryptionFailed
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return model.LocationSample{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "failed to open sealed payload", err)
	}

	return model.LocationSample{
		Latitude:  p.Lat,
		Longitude: p.Lon,
		Timestamp: time.Unix(p.Ts, 0),
		Accuracy:  p.Acc,
	}, nil
}

// EncodeKey renders a key in the urlsafe unpadded base64 the directory and
// wire records use.
func EncodeKey(key *[KeySize]byte) string {
	return base64.RawURLEncoding.EncodeToString(key[:])
}

func DecodeKey(s string) (*[KeySize]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(raw))
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}
