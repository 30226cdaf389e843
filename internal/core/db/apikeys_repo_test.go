package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(newTestQueries(t))
	hash := []byte{0x01, 0x02, 0x03, 0xfe}

	require.NoError(t, repo.Create(ctx, "key-1", "ci", hash))

	rec, err := repo.LookupByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "key-1", rec.APIKeyID)
	assert.Equal(t, "ci", rec.Name)
	assert.False(t, rec.RevokedAt.Valid)
	assert.False(t, rec.LastUsedAt.Valid)

	used := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastUsed(ctx, "key-1", used))
	rec, err = repo.LookupByHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, rec.LastUsedAt.Valid)
	assert.True(t, rec.LastUsedAt.Time.Equal(used))

	require.NoError(t, repo.Revoke(ctx, "key-1"))
	assert.ErrorIs(t, repo.Revoke(ctx, "key-1"), ErrAPIKeyNotFound)
	rec, err = repo.LookupByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, rec.RevokedAt.Valid)

	_, err = repo.LookupByHash(ctx, []byte("unknown"))
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}
