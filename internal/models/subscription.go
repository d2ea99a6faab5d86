package models

import (
	"time"
)

// Platform identifies which store a subscription was purchased through.
const (
	PlatformApple   = "apple"
	PlatformAndroid = "android"
)

// Subscription tiers.
const (
	TierFree     = "free"
	TierConsumer = "consumer"
	TierCreator  = "creator"
)

// Subscription lifecycle statuses. Transitions between them are owned by
// services.Lifecycle; nothing else writes Status.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusPaused   = "paused"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusUnpaid   = "unpaid"
)

// Google Play payment states as reported by the androidpublisher API.
const (
	PaymentStatePending      = 0
	PaymentStateReceived     = 1
	PaymentStateFreeTrial    = 2
	PaymentStatePendingDefer = 3
	PaymentStateNone         = -1 // not reported (Apple, or absent field)
)

// Subscription stores one purchase lifecycle per user. Renewals reported by
// the store keep the same OriginalTransactionID and mutate this row; so
// does a re-subscription after expiry, since the stores reuse the lifetime
// key. Rows are never hard-deleted so win-back offer eligibility can be
// computed from canceled/expired rows.
type Subscription struct {
	BaseModel

	UserID   string `json:"user_id" gorm:"not null;index"`
	Platform string `json:"platform" gorm:"size:20;not null;index:idx_platform_orig_txn,unique"`

	ProductID string `json:"product_id" gorm:"size:100"`
	Tier      string `json:"tier" gorm:"size:20;default:'consumer'"`

	TransactionID         string `json:"transaction_id" gorm:"size:128;index"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:128;not null;index:idx_platform_orig_txn,unique"`

	Status string `json:"status" gorm:"size:20;not null;index"`

	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`

	// CanceledAt records when cancellation intent was seen; access keeps
	// degrading until GracePeriodEnd, it does not stop here.
	CanceledAt     *time.Time `json:"canceled_at"`
	GracePeriodEnd *time.Time `json:"grace_period_end"`

	AutoRenewing        bool `json:"auto_renewing"`
	PaymentState        int  `json:"payment_state" gorm:"default:-1"`
	AcknowledgmentState int  `json:"acknowledgment_state" gorm:"default:-1"` // Android only
	Acknowledged        bool `json:"acknowledged"`

	// LastEventAt is the store-reported time of the last applied lifecycle
	// event. Events at or before this watermark are dropped as duplicates
	// or out-of-order deliveries.
	LastEventAt time.Time `json:"last_event_at" gorm:"index"`

	// Opaque store credential retained for re-validation: base64 receipt
	// for Apple, purchase token for Google Play.
	ReceiptOrToken string `json:"-" gorm:"type:text"`

	Environment string `json:"environment" gorm:"size:20"` // sandbox or production
}

// IsLive reports whether the row currently entitles or may still entitle
// access. Expired rows only leave this state through a fresh purchase
// reactivating them.
func (s *Subscription) IsLive() bool {
	return s.Status != StatusExpired
}

// InGracePeriod reports whether a canceled subscription still has grace
// access at the given instant. The window is inclusive at start, exclusive
// at end.
func (s *Subscription) InGracePeriod(now time.Time) bool {
	return s.Status == StatusCanceled && s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}
