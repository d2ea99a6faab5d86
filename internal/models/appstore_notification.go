package models

// AppStoreNotificationWrapper is the outer shape of an App Store Server
// Notification V2 request. Apple sends the actual notification as a JWS in
// the signedPayload field.
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// AppStoreNotification is the decoded signedPayload content.
// Apple uses camelCase field names.
type AppStoreNotification struct {
	NotificationType string           `json:"notificationType"` // e.g. "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	DataVersion      string           `json:"version"`
	SignedDate       int64            `json:"signedDate"` // ms since epoch
	Data             NotificationData `json:"data"`
}

// NotificationData carries the signed transaction payloads inside a V2
// notification.
type NotificationData struct {
	AppAppleID            int    `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// AppStoreTransactionInfo is the decoded signedTransactionInfo JWS payload.
type AppStoreTransactionInfo struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	AppAccountToken       string `json:"appAccountToken"`
	PurchaseDateMS        int64  `json:"purchaseDate"`
	ExpiresDateMS         int64  `json:"expiresDate"`
	RevocationDateMS      int64  `json:"revocationDate"`
	OfferType             int    `json:"offerType"`
	Environment           string `json:"environment"`
	Type                  string `json:"type"` // "Auto-Renewable Subscription"
}

// AppStoreRenewalInfo is the decoded signedRenewalInfo JWS payload.
type AppStoreRenewalInfo struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	AutoRenewProductID    string `json:"autoRenewProductId"`
	AutoRenewStatus       int    `json:"autoRenewStatus"` // 1 on, 0 off
	ExpirationIntentCode  int    `json:"expirationIntent"`
	IsInBillingRetry      bool   `json:"isInBillingRetryPeriod"`
	GracePeriodExpiresMS  int64  `json:"gracePeriodExpiresDate"`
}
