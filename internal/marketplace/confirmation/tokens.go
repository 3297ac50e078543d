package confirmation

import (
	"context"
	"time"

	"substitution-marketplace/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "confirmation:token:"

// TokenStore keeps confirmation tokens in the cache with the handshake TTL,
// so token checks do not hit the database on the happy path. The posting row
// remains the source of truth; a cache miss falls through to it.
type TokenStore struct {
	client *redis.Client
	logger logger.Logger
}

func NewTokenStore(client *redis.Client, log logger.Logger) *TokenStore {
	return &TokenStore{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "confirmation-tokens"}),
	}
}

// Save stores the token under the posting's key for the handshake duration.
func (t *TokenStore) Save(ctx context.Context, postingID, token string, ttl time.Duration) {
	if t == nil || t.client == nil {
		return
	}
	if err := t.client.Set(ctx, tokenKeyPrefix+postingID, token, ttl).Err(); err != nil {
		t.logger.Warn("token cache write failed", map[string]interface{}{
			"postingId": postingID,
			"error":     err.Error(),
		})
	}
}

// Check reports whether the cache holds a matching token. The second return
// is false when the cache has no answer and the caller must consult storage.
func (t *TokenStore) Check(ctx context.Context, postingID, token string) (matched, known bool) {
	if t == nil || t.client == nil {
		return false, false
	}
	stored, err := t.client.Get(ctx, tokenKeyPrefix+postingID).Result()
	if err != nil {
		return false, false
	}
	return stored == token, true
}

// Drop removes the token once the handshake is resolved.
func (t *TokenStore) Drop(ctx context.Context, postingID string) {
	if t == nil || t.client == nil {
		return
	}
	if err := t.client.Del(ctx, tokenKeyPrefix+postingID).Err(); err != nil {
		t.logger.Warn("token cache delete failed", map[string]interface{}{
			"postingId": postingID,
			"error":     err.Error(),
		})
	}
}
