package confirmation

import (
	"context"
	"testing"
	"time"

	"substitution-marketplace/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestTokenStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenStore(client, logger.NewTestLogger(t)), mr
}

func TestTokenStore_SaveAndCheck(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()

	store.Save(ctx, "posting-001", "tok-123", 24*time.Hour)

	matched, known := store.Check(ctx, "posting-001", "tok-123")
	assert.True(t, known)
	assert.True(t, matched)

	matched, known = store.Check(ctx, "posting-001", "tok-forged")
	assert.True(t, known)
	assert.False(t, matched)
}

func TestTokenStore_MissFallsThrough(t *testing.T) {
	store, _ := newTestTokenStore(t)

	_, known := store.Check(context.Background(), "posting-unknown", "tok-123")

	assert.False(t, known)
}

func TestTokenStore_ExpiresWithTTL(t *testing.T) {
	store, mr := newTestTokenStore(t)
	ctx := context.Background()

	store.Save(ctx, "posting-001", "tok-123", time.Hour)
	mr.FastForward(2 * time.Hour)

	_, known := store.Check(ctx, "posting-001", "tok-123")
	assert.False(t, known)
}

func TestTokenStore_Drop(t *testing.T) {
	store, _ := newTestTokenStore(t)
	ctx := context.Background()

	store.Save(ctx, "posting-001", "tok-123", time.Hour)
	store.Drop(ctx, "posting-001")

	_, known := store.Check(ctx, "posting-001", "tok-123")
	assert.False(t, known)
}

func TestTokenStore_NilStoreIsInert(t *testing.T) {
	var store *TokenStore
	ctx := context.Background()

	store.Save(ctx, "posting-001", "tok-123", time.Hour)
	store.Drop(ctx, "posting-001")

	matched, known := store.Check(ctx, "posting-001", "tok-123")
	assert.False(t, matched)
	assert.False(t, known)
}
