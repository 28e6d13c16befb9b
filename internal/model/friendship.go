package model

type FriendshipStatus string

const (
	FriendshipPending FriendshipStatus = "pending"
	FriendshipActive  FriendshipStatus = "active"
)

type (
	// Friendship is the authorization relationship between two identities,
	// keyed by the unordered pair. Only an active friendship permits either
	// party to address the other with envelopes.
	Friendship struct {
		PartyA      string           `json:"party_a" bson:"party_a"`
		PartyB      string           `json:"party_b" bson:"party_b"`
		Status      FriendshipStatus `json:"status" bson:"status"`
		RequestedBy string           `json:"requested_by" bson:"requested_by"`
	}
)

// NormalizePair orders the two identity ids so that the same unordered pair
// always maps to the same (PartyA, PartyB) row key.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (f *Friendship) Involves(id string) bool {
	return f.PartyA == id || f.PartyB == id
}
