package services

import (
	"context"
	"errors"
	"time"

	"entitlement-api/internal/models"
)

// Credential is the opaque proof of purchase a client submits: a base64
// receipt blob for Apple, a purchase token plus product id for Google Play.
type Credential struct {
	Receipt       string
	PurchaseToken string
	ProductID     string
}

// ReceiptValidator checks a platform credential against the store's
// source-of-truth endpoint. Validate always returns a result for "invalid"
// or "expired" conditions; an error means transport or authentication
// failure, never a semantic-negative outcome.
type ReceiptValidator interface {
	Platform() string
	Validate(ctx context.Context, credential Credential) (*models.ValidationResult, error)
}

// PurchaseAcknowledger confirms receipt of an Android purchase to the store.
// The store auto-refunds unacknowledged purchases after its deadline, so a
// failed acknowledgment must fail the surrounding validation.
type PurchaseAcknowledger interface {
	Acknowledge(ctx context.Context, productID, purchaseToken string) error
}

// withRetry runs fn with bounded exponential backoff. It retries only on
// error returns; semantic-negative validator outcomes are values, not
// errors, and never reach this loop. Errors exposing Terminal() true are
// returned immediately without further attempts.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var terminal interface{ Terminal() bool }
		if errors.As(err, &terminal) && terminal.Terminal() {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
