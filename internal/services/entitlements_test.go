package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"entitlement-api/internal/models"
)

func TestResolveFeatureAccessByStatus(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		status    string
		scanLimit int
		hasAds    bool
		cookMode  bool
	}{
		{"active", models.StatusActive, models.UnlimitedUsage, false, true},
		{"trialing", models.StatusTrialing, models.UnlimitedUsage, false, true},
		{"past_due", models.StatusPastDue, pastDueScanLimit, true, false},
		{"unpaid", models.StatusUnpaid, pastDueScanLimit, true, false},
		{"paused", models.StatusPaused, freeScanLimit, true, false},
		{"expired", models.StatusExpired, freeScanLimit, true, false},
		{"unknown status maps to free", "some_future_status", freeScanLimit, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subscription := &models.Subscription{Status: tt.status, Tier: models.TierConsumer}
			access := ResolveFeatureAccess(subscription, now)

			assert.Equal(t, tt.scanLimit, access.ScanLimit)
			assert.Equal(t, tt.hasAds, access.HasAds)
			assert.Equal(t, tt.cookMode, access.CanAccessCookMode)
			assert.True(t, access.CanScan)
			// Every tier keeps the leaderboard visible.
			assert.True(t, access.CanAccessLeaderboard)
		})
	}
}

func TestResolveFeatureAccessNilSubscription(t *testing.T) {
	access := ResolveFeatureAccess(nil, time.Now())
	assert.Equal(t, freeScanLimit, access.ScanLimit)
	assert.Equal(t, freeRecipeLimit, access.RecipeLimit)
	assert.True(t, access.HasAds)
	assert.False(t, access.CanCreateRecipes)
}

func TestResolveFeatureAccessGraceWindow(t *testing.T) {
	now := time.Now().UTC()
	graceEnd := now.Add(time.Hour)
	subscription := &models.Subscription{
		Status:         models.StatusCanceled,
		Tier:           models.TierConsumer,
		GracePeriodEnd: &graceEnd,
	}

	// Inside the window: reduced caps, ads on.
	inside := ResolveFeatureAccess(subscription, graceEnd.Add(-time.Second))
	assert.Equal(t, graceScanLimit, inside.ScanLimit)
	assert.Equal(t, graceRecipeLimit, inside.RecipeLimit)
	assert.True(t, inside.HasAds)
	assert.True(t, inside.CanAccessCookMode)

	// At the boundary the window is over.
	outside := ResolveFeatureAccess(subscription, graceEnd)
	assert.Equal(t, freeScanLimit, outside.ScanLimit)
	assert.False(t, outside.CanAccessCookMode)
}

func TestResolveFeatureAccessCreatorCapabilities(t *testing.T) {
	now := time.Now().UTC()
	graceEnd := now.Add(time.Hour)

	active := &models.Subscription{Status: models.StatusActive, Tier: models.TierCreator}
	access := ResolveFeatureAccess(active, now)
	assert.True(t, access.CanCreateRecipes)
	assert.True(t, access.CanEarnRevenue)

	// Creator monetization survives the grace window.
	canceled := &models.Subscription{Status: models.StatusCanceled, Tier: models.TierCreator, GracePeriodEnd: &graceEnd}
	grace := ResolveFeatureAccess(canceled, now)
	assert.True(t, grace.CanCreateRecipes)
	assert.True(t, grace.CanEarnRevenue)

	// Consumers never get creator capabilities.
	consumer := &models.Subscription{Status: models.StatusActive, Tier: models.TierConsumer}
	assert.False(t, ResolveFeatureAccess(consumer, now).CanCreateRecipes)
}
