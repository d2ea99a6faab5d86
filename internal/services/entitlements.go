package services

import (
	"time"

	"entitlement-api/internal/models"
)

// Daily caps per access tier.
const (
	graceScanLimit     = 10
	graceRecipeLimit   = 5
	pastDueScanLimit   = 3
	pastDueRecipeLimit = 1
	freeScanLimit      = 5
	freeRecipeLimit    = 2
)

// ResolveFeatureAccess maps a subscription's current state to the
// capability matrix. Pure and total: every status, including values this
// version does not know, maps to exactly one tier, with unknown statuses
// landing on the most restrictive one. A nil subscription is the free tier.
func ResolveFeatureAccess(subscription *models.Subscription, now time.Time) models.FeatureAccess {
	if subscription == nil {
		return freeAccess()
	}

	switch subscription.Status {
	case models.StatusActive, models.StatusTrialing:
		return fullAccess(subscription.Tier)

	case models.StatusCanceled:
		if subscription.InGracePeriod(now) {
			return graceAccess(subscription.Tier)
		}
		// Grace window over; the lazy read-time transition will persist
		// the expiry, access is already free tier.
		return freeAccess()

	case models.StatusPastDue, models.StatusUnpaid:
		return pastDueAccess()

	case models.StatusExpired, models.StatusPaused:
		return freeAccess()

	default:
		return freeAccess()
	}
}

// fullAccess: everything unlimited, no ads; creator capabilities only for
// the creator tier.
func fullAccess(tier string) models.FeatureAccess {
	creator := tier == models.TierCreator
	return models.FeatureAccess{
		CanScan:              true,
		ScanLimit:            models.UnlimitedUsage,
		CanGenerateRecipes:   true,
		RecipeLimit:          models.UnlimitedUsage,
		CanAccessCookMode:    true,
		CanFavoriteRecipes:   true,
		CanAccessLeaderboard: true,
		CanCreateRecipes:     creator,
		CanEarnRevenue:       creator,
		HasAds:               false,
	}
}

// graceAccess: reduced but functional caps, ads back on. Creator
// monetization is preserved so a creator does not lose payouts mid-grace.
func graceAccess(tier string) models.FeatureAccess {
	creator := tier == models.TierCreator
	return models.FeatureAccess{
		CanScan:              true,
		ScanLimit:            graceScanLimit,
		CanGenerateRecipes:   true,
		RecipeLimit:          graceRecipeLimit,
		CanAccessCookMode:    true,
		CanFavoriteRecipes:   true,
		CanAccessLeaderboard: true,
		CanCreateRecipes:     creator,
		CanEarnRevenue:       creator,
		HasAds:               true,
	}
}

// pastDueAccess: minimal caps while the store retries billing.
func pastDueAccess() models.FeatureAccess {
	return models.FeatureAccess{
		CanScan:              true,
		ScanLimit:            pastDueScanLimit,
		CanGenerateRecipes:   true,
		RecipeLimit:          pastDueRecipeLimit,
		CanAccessCookMode:    false,
		CanFavoriteRecipes:   false,
		CanAccessLeaderboard: true,
		CanCreateRecipes:     false,
		CanEarnRevenue:       false,
		HasAds:               true,
	}
}

// freeAccess: the free-tier matrix. The leaderboard stays visible in every
// tier as a retention lever.
func freeAccess() models.FeatureAccess {
	return models.FeatureAccess{
		CanScan:              true,
		ScanLimit:            freeScanLimit,
		CanGenerateRecipes:   true,
		RecipeLimit:          freeRecipeLimit,
		CanAccessCookMode:    false,
		CanFavoriteRecipes:   false,
		CanAccessLeaderboard: true,
		CanCreateRecipes:     false,
		CanEarnRevenue:       false,
		HasAds:               true,
	}
}
