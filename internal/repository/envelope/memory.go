package envelope

import (
	"context"
	"sync"

	"greenbox/internal/model"
)

type (
	// Memory mirrors Store for tests and redis-less setups. It does not
	// expire envelopes; retention is the redis store's concern.
	Memory struct {
		mu   sync.Mutex
		rows map[string]*model.LocationEnvelope
	}
)

func NewMemory() *Memory {
	return &Memory{
		rows: make(map[string]*model.LocationEnvelope),
	}
}

func (m *Memory) Save(ctx context.Context, env *model.LocationEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *env
	m.rows[env.ID] = &cp
	return nil
}

func (m *Memory) PurgeForIdentity(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, env := range m.rows {
		if env.SenderID == identity || env.RecipientID == identity {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *Memory) ListForIdentity(ctx context.Context, identity string) ([]*model.LocationEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var envs []*model.LocationEnvelope
	for _, env := range m.rows {
		if env.SenderID == identity || env.RecipientID == identity {
			cp := *env
			envs = append(envs, &cp)
		}
	}
	return envs, nil
}
