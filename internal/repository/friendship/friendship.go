package friendship

import (
	"context"

	"greenbox/internal/model"
	apperrors "greenbox/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	// Repo is the friendship ledger. One row per unordered identity pair;
	// IsActive is the sole predicate the relay consults before accepting a
	// publish.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("friendships"),
	}
}

func pairFilter(a, b string) bson.M {
	pa, pb := model.NormalizePair(a, b)
	return bson.M{
		"party_a": pa,
		"party_b": pb,
	}
}

func (r *Repo) Get(ctx context.Context, a, b string) (*model.Friendship, error) {
	var f model.Friendship
	err := r.collection.FindOne(ctx, pairFilter(a, b)).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &f, nil
}

// Request creates the pending row for the pair. The pair is unique: a second
// request in either direction surfaces ErrFriendshipExists.
func (r *Repo) Request(ctx context.Context, requester, other string) error {
	existing, err := r.Get(ctx, requester, other)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.ErrFriendshipExists
	}

	pa, pb := model.NormalizePair(requester, other)
	f := model.Friendship{
		PartyA:      pa,
		PartyB:      pb,
		Status:      model.FriendshipPending,
		RequestedBy: requester,
	}

	_, err = r.collection.InsertOne(ctx, &f)
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.ErrFriendshipExists
	}
	return err
}

// Accept transitions pending to active, but only for the party that did not
// request. Accepting an already-active pair, or one's own request, is a
// no-op.
func (r *Repo) Accept(ctx context.Context, identity, other string) error {
	f, err := r.Get(ctx, identity, other)
	if err != nil {
		return err
	}
	if f == nil {
		return apperrors.ErrFriendshipNotFound
	}

	if f.Status == model.FriendshipActive || f.RequestedBy == identity {
		return nil
	}

	update := bson.M{
		"$set": bson.M{"status": model.FriendshipActive},
	}
	_, err = r.collection.UpdateOne(ctx, pairFilter(identity, other), update)
	return err
}

// Invalidate forces every active friendship involving the identity back to
// pending. Used by the rekey cascade; idempotent.
func (r *Repo) Invalidate(ctx context.Context, identity string) error {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"party_a": identity},
			bson.M{"party_b": identity},
		},
		"status": model.FriendshipActive,
	}

	update := bson.M{
		"$set": bson.M{"status": model.FriendshipPending},
	}
	_, err := r.collection.UpdateMany(ctx, filter, update)
	return err
}

func (r *Repo) IsActive(ctx context.Context, a, b string) (bool, error) {
	f, err := r.Get(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && f.Status == model.FriendshipActive, nil
}
