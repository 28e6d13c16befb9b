package model

import "time"

type (
	// LocationSample is one plaintext position report. It only ever exists
	// in memory on the two endpoint devices; the relay sees sealed payloads.
	LocationSample struct {
		Latitude  float64
		Longitude float64
		Timestamp time.Time
		Accuracy  float64 // meters, 0 when the source does not report one
	}

	// LocationEnvelope is the only form in which location data transits or
	// is retained by the relay. Payload is a sealed-box ciphertext; JSON
	// encoding renders it base64.
	LocationEnvelope struct {
		ID          string    `json:"id,omitempty"`
		SenderID    string    `json:"sender_id"`
		RecipientID string    `json:"recipient_id"`
		Payload     []byte    `json:"payload"`
		CreatedAt   time.Time `json:"created_at,omitempty"`
	}
)
