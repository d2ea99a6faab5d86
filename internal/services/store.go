package services

import (
	"entitlement-api/internal/models"
)

// SubscriptionStore is the persistence surface the engine depends on.
// database.SubscriptionRepo is the production implementation; tests use an
// in-memory fake.
type SubscriptionStore interface {
	FindByOriginalTransactionID(platform, originalTransactionID string) (*models.Subscription, error)
	FindByPurchaseToken(purchaseToken string) (*models.Subscription, error)
	FindLatestByUserID(userID string) (*models.Subscription, error)
	ListByUserID(userID string) ([]models.Subscription, error)
	ListLive() ([]models.Subscription, error)
	Save(subscription *models.Subscription) error

	// WithRowLock serializes a read-modify-write of one subscription row.
	// fn receives nil when no row exists and returns the row to persist,
	// or nil to persist nothing.
	WithRowLock(platform, originalTransactionID string, fn func(existing *models.Subscription) (*models.Subscription, error)) error

	RecordWebhook(record *models.WebhookRecord) error
	MarkWebhookProcessed(id uint, processErr string) error
}
