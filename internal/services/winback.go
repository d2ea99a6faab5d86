package services

import (
	"time"

	"entitlement-api/internal/models"
)

// WinBackOfferFor returns the re-engagement offer for a subscription
// canceled at canceledAt, evaluated at now. The table is deterministic and
// boundary-inclusive: exactly 7 elapsed days still yields the 20% offer.
func WinBackOfferFor(canceledAt, now time.Time) models.WinBackOffer {
	elapsed := now.Sub(canceledAt)

	switch {
	case elapsed <= 7*24*time.Hour:
		return models.WinBackOffer{DiscountPercent: 20, TrialDays: 0, WindowDays: 7}
	case elapsed <= 30*24*time.Hour:
		return models.WinBackOffer{DiscountPercent: 50, TrialDays: 7, WindowDays: 14}
	case elapsed <= 90*24*time.Hour:
		return models.WinBackOffer{DiscountPercent: 70, TrialDays: 14, WindowDays: 30}
	default:
		return models.WinBackOffer{DiscountPercent: 0, TrialDays: 30, WindowDays: 60, FreeTrialOnly: true}
	}
}
