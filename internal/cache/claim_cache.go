package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClaimData records which item an order already received, so a retried
// fulfillment trigger replays the original claim instead of burning a second
// credential.
type ClaimData struct {
	PoolID       int       `json:"poolId"`
	ItemID       int       `json:"itemId"`
	OrderID      string    `json:"orderId"`
	BucketID     string    `json:"bucketId"`
	PayloadMask  string    `json:"payloadMask"`
	SerialNumber string    `json:"serialNumber,omitempty"`
	ClaimedAt    time.Time `json:"claimedAt"`
}

// ClaimCache provides claim idempotency keyed by (client, orderId).
type ClaimCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewClaimCache creates a new ClaimCache.
func NewClaimCache(redis *RedisClient, ttl time.Duration) *ClaimCache {
	return &ClaimCache{redis: redis, ttl: ttl}
}

func (c *ClaimCache) key(clientID int, orderID string) string {
	return fmt.Sprintf("claim:order:%d:%s", clientID, orderID)
}

// Set stores the claim result for replay.
func (c *ClaimCache) Set(ctx context.Context, clientID int, data *ClaimData) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal claim data: %w", err)
	}
	return c.redis.Set(ctx, c.key(clientID, data.OrderID), string(jsonData), c.ttl)
}

// Get retrieves a prior claim for (clientID, orderID). Returns (nil, nil) on
// a cache miss; the cache is advisory, a miss just means a fresh claim.
func (c *ClaimCache) Get(ctx context.Context, clientID int, orderID string) (*ClaimData, error) {
	raw, err := c.redis.Get(ctx, c.key(clientID, orderID))
	if err != nil {
		if IsMiss(err) {
			return nil, nil
		}
		return nil, err
	}
	var data ClaimData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim data: %w", err)
	}
	return &data, nil
}

// Delete drops a cached claim, e.g. after an operator releases the item.
func (c *ClaimCache) Delete(ctx context.Context, clientID int, orderID string) error {
	return c.redis.Delete(ctx, c.key(clientID, orderID))
}
