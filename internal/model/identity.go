package model

import "time"

type (
	// Identity is one row of the directory: the principal's id plus the
	// public key of its current key generation. The directory always holds
	// exactly one key per identity; publishing a new key supersedes the
	// previous generation.
	Identity struct {
		ID          string    `json:"id" bson:"_id"`
		PublicKey   string    `json:"public_key" bson:"public_key"` // base64 raw-url, 32 bytes decoded
		DisplayName string    `json:"display_name,omitempty" bson:"display_name,omitempty"`
		AvatarURL   string    `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
		CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	}
)
