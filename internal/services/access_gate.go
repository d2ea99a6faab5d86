package services

import (
	"context"
	"fmt"
	"time"

	"entitlement-api/internal/models"

	"github.com/redis/go-redis/v9"
)

// AccessDecision is the answer the rest of the application consumes.
// RemainingUsage is models.UnlimitedUsage for uncapped features.
type AccessDecision struct {
	Allowed        bool `json:"allowed"`
	RemainingUsage int  `json:"remaining_usage"`
}

// AccessGate resolves a user's entitlement and tracks metered usage. Daily
// counters live in Redis keyed by user, feature and UTC date, expiring two
// days out.
type AccessGate struct {
	lifecycle *Lifecycle
	redis     *redis.Client
}

// NewAccessGate creates the gate.
func NewAccessGate(lifecycle *Lifecycle, redisClient *redis.Client) *AccessGate {
	return &AccessGate{lifecycle: lifecycle, redis: redisClient}
}

// CheckAccess reports whether the user may use the feature right now and
// how much metered usage remains today. Entitlement is recomputed from the
// subscription's current state on every call; nothing is cached.
func (g *AccessGate) CheckAccess(ctx context.Context, userID, feature string) (*AccessDecision, error) {
	subscription, err := g.lifecycle.CurrentForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	access := ResolveFeatureAccess(subscription, time.Now())
	enabled, limit := featureGate(access, feature)

	if !enabled {
		return &AccessDecision{Allowed: false, RemainingUsage: 0}, nil
	}
	if limit == models.UnlimitedUsage {
		return &AccessDecision{Allowed: true, RemainingUsage: models.UnlimitedUsage}, nil
	}

	used, err := g.usedToday(ctx, userID, feature)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return &AccessDecision{Allowed: remaining > 0, RemainingUsage: remaining}, nil
}

// Consume records one use of a metered feature. Call after CheckAccess
// allowed it.
func (g *AccessGate) Consume(ctx context.Context, userID, feature string) error {
	key := usageKey(userID, feature, time.Now())
	pipe := g.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (g *AccessGate) usedToday(ctx context.Context, userID, feature string) (int64, error) {
	used, err := g.redis.Get(ctx, usageKey(userID, feature, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return used, err
}

func usageKey(userID, feature string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s", userID, feature, now.UTC().Format("2006-01-02"))
}

// featureGate maps one feature name onto the resolved capability matrix.
// Unknown feature names are denied.
func featureGate(access models.FeatureAccess, feature string) (enabled bool, limit int) {
	switch feature {
	case models.FeatureScan:
		return access.CanScan, access.ScanLimit
	case models.FeatureGenerateRecipes:
		return access.CanGenerateRecipes, access.RecipeLimit
	case models.FeatureCookMode:
		return access.CanAccessCookMode, models.UnlimitedUsage
	case models.FeatureFavorites:
		return access.CanFavoriteRecipes, models.UnlimitedUsage
	case models.FeatureLeaderboard:
		return access.CanAccessLeaderboard, models.UnlimitedUsage
	case models.FeatureCreateRecipes:
		return access.CanCreateRecipes, models.UnlimitedUsage
	case models.FeatureEarnRevenue:
		return access.CanEarnRevenue, models.UnlimitedUsage
	default:
		return false, 0
	}
}
