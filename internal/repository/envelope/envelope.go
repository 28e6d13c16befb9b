package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"greenbox/internal/model"
	redisSvc "greenbox/internal/service/redis"

	goredis "github.com/redis/go-redis/v9"
)

type (
	// Store keeps published envelopes for the relay's short retention
	// window. Each envelope lives under its own key with the retention TTL;
	// per-identity index sets make the rekey purge a set lookup instead of
	// a scan. Index members may outlive their envelope keys; deleting a
	// missing key is a no-op, so purge stays idempotent.
	Store struct {
		redis *redisSvc.RedisService
		ttl   time.Duration
	}
)

func NewStore(redis *redisSvc.RedisService, ttl time.Duration) *Store {
	return &Store{
		redis: redis,
		ttl:   ttl,
	}
}

func envelopeKey(id string) string {
	return fmt.Sprintf("envelope:%s", id)
}

func indexKey(identity string) string {
	return fmt.Sprintf("envelope:idx:%s", identity)
}

func (s *Store) Save(ctx context.Context, env *model.LocationEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, envelopeKey(env.ID), data, s.ttl); err != nil {
		return err
	}

	for _, identity := range []string{env.SenderID, env.RecipientID} {
		if err := s.redis.SAdd(ctx, indexKey(identity), env.ID); err != nil {
			return err
		}
		if err := s.redis.Expire(ctx, indexKey(identity), s.ttl); err != nil {
			return err
		}
	}
	return nil
}

// PurgeForIdentity removes every retained envelope sent by or addressed to
// the identity. Envelopes sealed under a superseded key can never be opened,
// so the rekey cascade drops them all.
func (s *Store) PurgeForIdentity(ctx context.Context, identity string) error {
	ids, err := s.redis.SMembers(ctx, indexKey(identity))
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, envelopeKey(id))
	}
	keys = append(keys, indexKey(identity))

	return s.redis.Del(ctx, keys...)
}

// ListForIdentity returns the envelopes still retained for an identity,
// skipping index members whose envelope already expired.
func (s *Store) ListForIdentity(ctx context.Context, identity string) ([]*model.LocationEnvelope, error) {
	ids, err := s.redis.SMembers(ctx, indexKey(identity))
	if err != nil {
		return nil, err
	}

	var envs []*model.LocationEnvelope
	for _, id := range ids {
		v, err := s.redis.Get(ctx, envelopeKey(id))
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var env model.LocationEnvelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			return nil, err
		}
		envs = append(envs, &env)
	}
	return envs, nil
}
