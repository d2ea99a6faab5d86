package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard rejects redelivered store notifications by notification UUID
// and signed date. Backed by Redis so restarts do not reopen the window.
// This complements the lifecycle watermark: the guard stops exact
// redeliveries cheaply, the watermark handles out-of-order semantics.
type ReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplayGuard creates a guard with a 24h de-dup window.
func NewReplayGuard(client *redis.Client) *ReplayGuard {
	return &ReplayGuard{
		client: client,
		ttl:    24 * time.Hour,
	}
}

// IsReplay records the notification and reports whether it was seen
// before. Notifications without a UUID cannot be checked and are allowed.
// Redis failures also allow processing: the watermark still protects state,
// and dropping real notifications is the worse failure.
func (g *ReplayGuard) IsReplay(ctx context.Context, notificationUUID string, signedDate int64) bool {
	if notificationUUID == "" {
		return false
	}

	key := "webhook_seen:" + notificationKey(notificationUUID, signedDate)
	set, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		logging.Errorf("Replay guard unavailable, allowing notification %s: %v", notificationUUID, err)
		return false
	}
	return !set
}

func notificationKey(notificationUUID string, signedDate int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", notificationUUID, signedDate)))
	return hex.EncodeToString(sum[:])
}
