package services

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// ValidationOutcome is what ValidateAndUpdate reports back to the caller.
type ValidationOutcome struct {
	SubscriptionUpdated bool
	Active              bool
	Subscription        *models.Subscription
	Result              *models.ValidationResult
}

// ValidationFacade normalizes both store validators behind one entry
// point. The validator is selected once here by platform tag; nothing
// downstream branches on platform strings.
type ValidationFacade struct {
	validators   map[string]ReceiptValidator
	acknowledger PurchaseAcknowledger
	lifecycle    *Lifecycle
}

// NewValidationFacade wires the registered validators to the lifecycle
// engine. acknowledger may be nil when no Android validator is configured.
func NewValidationFacade(lifecycle *Lifecycle, acknowledger PurchaseAcknowledger, validators ...ReceiptValidator) *ValidationFacade {
	byPlatform := make(map[string]ReceiptValidator, len(validators))
	for _, v := range validators {
		byPlatform[v.Platform()] = v
	}
	return &ValidationFacade{
		validators:   byPlatform,
		acknowledger: acknowledger,
		lifecycle:    lifecycle,
	}
}

// ValidateAndUpdate validates a credential against the store and folds the
// outcome into persisted subscription state.
//
// For Android, an unacknowledged valid purchase is acknowledged before any
// state is written; if acknowledgment fails the whole operation fails, so a
// purchase the store may still auto-refund is never recorded as entitling
// access.
func (f *ValidationFacade) ValidateAndUpdate(ctx context.Context, userID, platform string, credential Credential) (*ValidationOutcome, error) {
	validator, ok := f.validators[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}

	result, err := validator.Validate(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if result.IsValid && platform == models.PlatformAndroid && result.AcknowledgmentState == 0 {
		if f.acknowledger == nil {
			return nil, fmt.Errorf("purchase requires acknowledgment but no acknowledger is configured")
		}
		if err := f.acknowledger.Acknowledge(ctx, credential.ProductID, credential.PurchaseToken); err != nil {
			return nil, fmt.Errorf("failed to acknowledge purchase: %w", err)
		}
		result.AcknowledgmentState = 1
		logging.Infof("Acknowledged purchase - product: %s, user: %s", credential.ProductID, userID)
	}

	subscription, updated, err := f.lifecycle.ApplyValidation(userID, credential, result)
	if err != nil {
		return nil, fmt.Errorf("failed to apply validation result: %w", err)
	}

	return &ValidationOutcome{
		SubscriptionUpdated: updated,
		Active:              result.IsValid && result.IsActive,
		Subscription:        subscription,
		Result:              result,
	}, nil
}

// Revalidate re-checks an existing subscription against the store using its
// retained credential. Used by the refresh endpoint and batch
// reconciliation.
func (f *ValidationFacade) Revalidate(ctx context.Context, subscription *models.Subscription) (*ValidationOutcome, error) {
	credential := Credential{ProductID: subscription.ProductID}
	switch subscription.Platform {
	case models.PlatformApple:
		credential.Receipt = subscription.ReceiptOrToken
	case models.PlatformAndroid:
		credential.PurchaseToken = subscription.ReceiptOrToken
	}
	return f.ValidateAndUpdate(ctx, subscription.UserID, subscription.Platform, credential)
}
