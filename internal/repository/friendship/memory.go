package friendship

import (
	"context"
	"sync"

	"greenbox/internal/model"
	apperrors "greenbox/pkg/errors"
)

type (
	// Memory is an in-process ledger with the same semantics as Repo. It
	// backs tests and single-process setups that run without mongo.
	Memory struct {
		mu   sync.Mutex
		rows map[[2]string]*model.Friendship
	}
)

func NewMemory() *Memory {
	return &Memory{
		rows: make(map[[2]string]*model.Friendship),
	}
}

func pairKey(a, b string) [2]string {
	pa, pb := model.NormalizePair(a, b)
	return [2]string{pa, pb}
}

func (m *Memory) Get(ctx context.Context, a, b string) (*model.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.rows[pairKey(a, b)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) Request(ctx context.Context, requester, other string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(requester, other)
	if _, ok := m.rows[key]; ok {
		return apperrors.ErrFriendshipExists
	}

	m.rows[key] = &model.Friendship{
		PartyA:      key[0],
		PartyB:      key[1],
		Status:      model.FriendshipPending,
		RequestedBy: requester,
	}
	return nil
}

func (m *Memory) Accept(ctx context.Context, identity, other string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.rows[pairKey(identity, other)]
	if !ok {
		return apperrors.ErrFriendshipNotFound
	}

	if f.Status == model.FriendshipActive || f.RequestedBy == identity {
		return nil
	}

	f.Status = model.FriendshipActive
	return nil
}

func (m *Memory) Invalidate(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.rows {
		if f.Involves(identity) && f.Status == model.FriendshipActive {
			f.Status = model.FriendshipPending
		}
	}
	return nil
}

func (m *Memory) IsActive(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.rows[pairKey(a, b)]
	return ok && f.Status == model.FriendshipActive, nil
}
