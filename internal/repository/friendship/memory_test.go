package friendship

import (
	"context"
	"testing"

	"greenbox/internal/model"
	apperrors "greenbox/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCreatesPendingRow(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))

	f, err := ledger.Get(ctx, "bob", "alice")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, model.FriendshipPending, f.Status)
	assert.Equal(t, "alice", f.RequestedBy)

	active, err := ledger.IsActive(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRequestDuplicatePair(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))

	// Same pair in either direction is a duplicate.
	assert.ErrorIs(t, ledger.Request(ctx, "alice", "bob"), apperrors.ErrFriendshipExists)
	assert.ErrorIs(t, ledger.Request(ctx, "bob", "alice"), apperrors.ErrFriendshipExists)
}

func TestAcceptActivates(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))
	require.NoError(t, ledger.Accept(ctx, "bob", "alice"))

	active, err := ledger.IsActive(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestAcceptByRequesterIsNoOp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))
	require.NoError(t, ledger.Accept(ctx, "alice", "bob"))

	active, err := ledger.IsActive(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, active, "the requesting party must not be able to activate its own request")
}

func TestAcceptAlreadyActiveIsNoOp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))
	require.NoError(t, ledger.Accept(ctx, "bob", "alice"))
	require.NoError(t, ledger.Accept(ctx, "bob", "alice"))
	require.NoError(t, ledger.Accept(ctx, "alice", "bob"))

	active, err := ledger.IsActive(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestAcceptUnknownPair(t *testing.T) {
	ledger := NewMemory()
	assert.ErrorIs(t, ledger.Accept(context.Background(), "alice", "bob"), apperrors.ErrFriendshipNotFound)
}

func TestInvalidateResetsActiveFriendships(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()

	require.NoError(t, ledger.Request(ctx, "alice", "bob"))
	require.NoError(t, ledger.Accept(ctx, "bob", "alice"))
	require.NoError(t, ledger.Request(ctx, "carol", "alice"))
	require.NoError(t, ledger.Accept(ctx, "alice", "carol"))
	require.NoError(t, ledger.Request(ctx, "carol", "dave"))
	require.NoError(t, ledger.Accept(ctx, "dave", "carol"))

	require.NoError(t, ledger.Invalidate(ctx, "alice"))

	for _, pair := range [][2]string{{"alice", "bob"}, {"alice", "carol"}} {
		active, err := ledger.IsActive(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, active)

		f, err := ledger.Get(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, model.FriendshipPending, f.Status)
	}

	// Uninvolved pairs keep their state.
	active, err := ledger.IsActive(ctx, "carol", "dave")
	require.NoError(t, err)
	assert.True(t, active)

	// Idempotent.
	require.NoError(t, ledger.Invalidate(ctx, "alice"))
}
