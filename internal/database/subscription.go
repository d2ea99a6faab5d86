package database

import (
	"errors"
	"time"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepo is the CRUD surface the entitlement engine reads and
// writes subscriptions through. Rows are keyed by
// (platform, original_transaction_id) with secondary lookups by user.
type SubscriptionRepo struct {
	db *gorm.DB
}

// NewSubscriptionRepo creates a repository on the given gorm handle.
func NewSubscriptionRepo(db *gorm.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// FindByOriginalTransactionID returns the subscription for the store's
// lifetime identity key, or (nil, nil) when no row exists.
func (r *SubscriptionRepo) FindByOriginalTransactionID(platform, originalTransactionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.Where("platform = ? AND original_transaction_id = ?", platform, originalTransactionID).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// FindByPurchaseToken looks up an Android subscription by its opaque
// purchase token.
func (r *SubscriptionRepo) FindByPurchaseToken(purchaseToken string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.Where("platform = ? AND receipt_or_token = ?", models.PlatformAndroid, purchaseToken).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// FindLatestByUserID returns the user's most recently updated subscription,
// live or not, or (nil, nil) when the user never purchased.
func (r *SubscriptionRepo) FindLatestByUserID(userID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// ListByUserID returns all subscriptions a user has ever held.
func (r *SubscriptionRepo) ListByUserID(userID string) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subscriptions).Error
	return subscriptions, err
}

// ListLive returns every subscription still in a mutable lifecycle state,
// for batch reconciliation.
func (r *SubscriptionRepo) ListLive() ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.Where("status <> ?", models.StatusExpired).Find(&subscriptions).Error
	return subscriptions, err
}

// Save persists the subscription.
func (r *SubscriptionRepo) Save(subscription *models.Subscription) error {
	return r.db.Save(subscription).Error
}

// WithRowLock runs fn inside a transaction holding a row-level lock on the
// subscription identified by (platform, originalTransactionID). fn receives
// the existing row, or nil when none exists, and returns the row to
// persist; returning nil persists nothing. Two concurrent events for the
// same original transaction serialize here instead of interleaving their
// read-modify-write.
func (r *SubscriptionRepo) WithRowLock(platform, originalTransactionID string, fn func(existing *models.Subscription) (*models.Subscription, error)) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("platform = ? AND original_transaction_id = ?", platform, originalTransactionID).
			First(&existing).Error

		var current *models.Subscription
		switch {
		case err == nil:
			current = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			current = nil
		default:
			return err
		}

		updated, err := fn(current)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil
		}
		return tx.Save(updated).Error
	})
}

// RecordWebhook durably stores a raw store notification before processing.
func (r *SubscriptionRepo) RecordWebhook(record *models.WebhookRecord) error {
	return r.db.Create(record).Error
}

// MarkWebhookProcessed records the processing outcome of a stored
// notification.
func (r *SubscriptionRepo) MarkWebhookProcessed(id uint, processErr string) error {
	return r.db.Model(&models.WebhookRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":     processErr == "",
			"process_error": processErr,
			"updated_at":    time.Now(),
		}).Error
}
