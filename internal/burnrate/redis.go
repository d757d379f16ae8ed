package burnrate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupStore shares the dedup window across evaluator instances.
// SET NX with the cool-down as TTL makes the first writer win and every
// later firing inside the window a suppression.
type RedisDedupStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDedupStore wraps an existing Redis client. The prefix keeps
// alerting keys out of other tenants' namespaces.
func NewRedisDedupStore(client *redis.Client, prefix string) *RedisDedupStore {
	if prefix == "" {
		prefix = "aslo:alert:dedup:"
	}
	return &RedisDedupStore{client: client, prefix: prefix}
}

// MarkFiring implements DedupStore.
func (s *RedisDedupStore) MarkFiring(ctx context.Context, fingerprint string, cooldown time.Duration) (bool, error) {
	first, err := s.client.SetNX(ctx, s.prefix+fingerprint, 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return first, nil
}
