package identity

import (
	"context"
	"time"

	"greenbox/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Repo is the directory: the remote registry of each identity's current
	// public key and profile.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("identities"),
	}
}

func (r *Repo) Get(ctx context.Context, id string) (*model.Identity, error) {
	filter := bson.M{
		"_id": id,
	}

	var ident model.Identity
	err := r.collection.FindOne(ctx, filter).Decode(&ident)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &ident, nil
}

// Publish upserts the identity row. This is the single mechanism by which a
// key generation becomes current; re-publishing the same row is a no-op.
func (r *Repo) Publish(ctx context.Context, ident *model.Identity) error {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}

	filter := bson.M{
		"_id": ident.ID,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, filter, ident, opts)
	return err
}
