package models

import (
	"time"
)

// ValidationResult is the platform-agnostic outcome of one store validation
// call. It is transient: the lifecycle engine folds it into the persisted
// Subscription, the result itself is never stored.
//
// IsValid=false with Error=="" is a semantic-negative outcome (receipt
// invalid, token revoked, subscription gone) and is processed normally;
// Error is only set for diagnostics and is never shown to the client.
type ValidationResult struct {
	IsValid  bool   `json:"is_valid"`
	IsActive bool   `json:"is_active"`
	Platform string `json:"platform"`

	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`

	PurchasedAt *time.Time `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at"`

	IsTrialPeriod bool `json:"is_trial_period"`
	AutoRenewing  bool `json:"auto_renewing"`

	// Google Play extras.
	ObfuscatedAccountID string `json:"-"`
	PaymentState        int    `json:"payment_state"`
	AcknowledgmentState int    `json:"acknowledgment_state"`
	CancelReason        *int   `json:"cancel_reason"`
	OrderID             string `json:"order_id"`
	PriceAmountMicros   int64  `json:"price_amount_micros"`
	PriceCurrencyCode   string `json:"price_currency_code"`

	Environment string `json:"environment"`

	// Diagnostic detail for invalid outcomes, e.g. the Apple status code.
	// Internal only.
	Error string `json:"-"`
}

// EventTime returns the store-reported time this result represents, used as
// the lifecycle watermark. The purchase timestamp of the latest transaction
// is when the store created the event; the expiry is only a fallback so a
// future-dated watermark cannot starve later store-pushed notifications.
func (r *ValidationResult) EventTime() time.Time {
	if r.PurchasedAt != nil {
		return *r.PurchasedAt
	}
	if r.ExpiresAt != nil {
		return *r.ExpiresAt
	}
	return time.Time{}
}
