// Package cache provides a best-effort redis read cache for the query
// surface. Only verified records are cached: no transition exits verified, so
// a cached copy can never go stale. Pending and failed statuses always hit
// the store.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"attestor/internal/verification/models"
	"attestor/pkg/domain"
)

const keyPrefix = "verification:status:"

type cachedRecord struct {
	Identity       string `json:"identity"`
	State          string `json:"state"`
	Digest         []byte `json:"digest"`
	Expiry         int64  `json:"expiry"`
	TransactionRef string `json:"transaction_ref"`
}

// StatusCache caches terminal verification statuses.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// GetVerified returns a cached verified record. Misses and redis errors both
// report !ok; the caller falls through to the store.
func (c *StatusCache) GetVerified(ctx context.Context, identity domain.Address) (models.VerificationRecord, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+identity.String()).Bytes()
	if err != nil {
		return models.VerificationRecord{}, false
	}
	var cached cachedRecord
	if err := json.Unmarshal(raw, &cached); err != nil {
		return models.VerificationRecord{}, false
	}
	if cached.State != string(models.StateVerified) {
		return models.VerificationRecord{}, false
	}
	return models.VerificationRecord{
		Identity:       identity,
		State:          models.StateVerified,
		Digest:         cached.Digest,
		Expiry:         cached.Expiry,
		TransactionRef: cached.TransactionRef,
	}, true
}

// PutVerified caches a record if and only if it is verified. Best effort:
// redis failures are swallowed, the store remains the source of truth.
func (c *StatusCache) PutVerified(ctx context.Context, rec models.VerificationRecord) {
	if rec.State != models.StateVerified {
		return
	}
	raw, err := json.Marshal(cachedRecord{
		Identity:       rec.Identity.String(),
		State:          string(rec.State),
		Digest:         rec.Digest,
		Expiry:         rec.Expiry,
		TransactionRef: rec.TransactionRef,
	})
	if err != nil {
		return
	}
	c.client.Set(ctx, keyPrefix+rec.Identity.String(), raw, c.ttl)
}
