package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-api/internal/models"
)

func TestReconcileAllAggregatesPartialFailures(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)

	require.NoError(t, store.Save(&models.Subscription{
		UserID:                "user-apple",
		Platform:              models.PlatformApple,
		ProductID:             "consumer_monthly",
		OriginalTransactionID: "orig-1",
		ReceiptOrToken:        "stored-receipt",
		Status:                models.StatusActive,
	}))
	require.NoError(t, store.Save(&models.Subscription{
		UserID:                "user-android",
		Platform:              models.PlatformAndroid,
		ProductID:             "consumer_monthly",
		OriginalTransactionID: "token-1",
		ReceiptOrToken:        "token-1",
		Status:                models.StatusActive,
	}))

	// The Apple check fails outright; the Android one comes back valid but
	// no longer active, already acknowledged so no acknowledger is needed.
	lapsed := androidResult("token-1", 1)
	lapsed.IsActive = false
	lapsed.AutoRenewing = false
	lapsed.ExpiresAt = timePtr(time.Now().UTC().Add(-time.Hour))

	facade := NewValidationFacade(lifecycle, nil,
		&fakeValidator{platform: models.PlatformApple, err: errors.New("store unavailable")},
		&fakeValidator{platform: models.PlatformAndroid, result: lapsed},
	)
	reconciler := NewReconciler(store, facade, time.Hour, 2)

	summary := reconciler.ReconcileAll(context.Background())

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].Error(), "orig-1")
	assert.Contains(t, summary.Failures[0].Error(), "store unavailable")

	// The failed row is untouched, the lapsed one is expired in place.
	assert.Equal(t, models.StatusActive, store.get(models.PlatformApple, "orig-1").Status)
	assert.Equal(t, models.StatusExpired, store.get(models.PlatformAndroid, "token-1").Status)
}

func TestReconcileAllSkipsExpiredRows(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)

	require.NoError(t, store.Save(&models.Subscription{
		UserID:                "user-1",
		Platform:              models.PlatformApple,
		ProductID:             "consumer_monthly",
		OriginalTransactionID: "orig-gone",
		ReceiptOrToken:        "stored-receipt",
		Status:                models.StatusExpired,
	}))

	// Any validation call would fail; an expired row never triggers one.
	facade := NewValidationFacade(lifecycle, nil,
		&fakeValidator{platform: models.PlatformApple, err: errors.New("should not be called")})
	reconciler := NewReconciler(store, facade, time.Hour, 2)

	summary := reconciler.ReconcileAll(context.Background())

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Failures)
}

func TestReconcileAllNoChangeWhenStoreAgrees(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)

	purchasedAt := time.Now().UTC().Add(-time.Hour)
	current := androidResult("token-1", 1)
	current.PurchasedAt = timePtr(purchasedAt)

	require.NoError(t, store.Save(&models.Subscription{
		UserID:                "user-1",
		Platform:              models.PlatformAndroid,
		ProductID:             current.ProductID,
		Tier:                  models.TierConsumer,
		OriginalTransactionID: "token-1",
		ReceiptOrToken:        "token-1",
		TransactionID:         current.TransactionID,
		Status:                models.StatusActive,
		CurrentPeriodStart:    current.PurchasedAt,
		CurrentPeriodEnd:      current.ExpiresAt,
		AutoRenewing:          true,
		PaymentState:          models.PaymentStateReceived,
		Acknowledged:          true,
		AcknowledgmentState:   1,
		LastEventAt:           purchasedAt,
	}))

	facade := NewValidationFacade(lifecycle, nil,
		&fakeValidator{platform: models.PlatformAndroid, result: current})
	reconciler := NewReconciler(store, facade, time.Hour, 2)

	summary := reconciler.ReconcileAll(context.Background())

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Failed)
}
