package models

// PubSubEnvelope is the Cloud Pub/Sub push wrapper Google delivers RTDN
// messages in. Data is the base64-encoded DeveloperNotification JSON.
type PubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DeveloperNotification is the decoded Real-Time Developer Notification.
type DeveloperNotification struct {
	Version                  string                    `json:"version"`
	PackageName              string                    `json:"packageName"`
	EventTimeMillis          string                    `json:"eventTimeMillis"`
	SubscriptionNotification *SubscriptionNotification `json:"subscriptionNotification,omitempty"`
	TestNotification         *TestNotification         `json:"testNotification,omitempty"`
}

// SubscriptionNotification identifies one subscription event.
type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"` // the product id
}

// TestNotification is sent from the Play console "send test notification"
// button.
type TestNotification struct {
	Version string `json:"version"`
}

// Google Play RTDN subscription notification types.
const (
	GoogleNotifRecovered            = 1
	GoogleNotifRenewed              = 2
	GoogleNotifCanceled             = 3
	GoogleNotifPurchased            = 4
	GoogleNotifOnHold               = 5
	GoogleNotifInGracePeriod        = 6
	GoogleNotifRestarted            = 7
	GoogleNotifPriceChangeConfirmed = 8
	GoogleNotifDeferred             = 9
	GoogleNotifPaused               = 10
	GoogleNotifPauseScheduleChanged = 11
	GoogleNotifRevoked              = 12
	GoogleNotifExpired              = 13
)

// SubscriptionPurchase mirrors the androidpublisher v3
// purchases.subscriptions resource, limited to the fields the engine reads.
type SubscriptionPurchase struct {
	Kind                 string `json:"kind"`
	StartTimeMillis      string `json:"startTimeMillis"`
	ExpiryTimeMillis     string `json:"expiryTimeMillis"`
	AutoRenewing         bool   `json:"autoRenewing"`
	PriceCurrencyCode    string `json:"priceCurrencyCode"`
	PriceAmountMicros    string `json:"priceAmountMicros"`
	PaymentState         *int   `json:"paymentState,omitempty"`
	CancelReason         *int   `json:"cancelReason,omitempty"`
	UserCancellationTime string `json:"userCancellationTimeMillis,omitempty"`
	OrderID              string `json:"orderId"`
	AcknowledgementState *int   `json:"acknowledgementState,omitempty"`
	ObfuscatedAccountID  string `json:"obfuscatedExternalAccountId,omitempty"`
}
