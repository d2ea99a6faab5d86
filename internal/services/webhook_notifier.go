package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// WebhookNotifier pushes entitlement changes to the app backend so it can
// invalidate its own caches without polling.
type WebhookNotifier struct {
	httpClient  *http.Client
	callbackURL string
	secret      string
}

// NewWebhookNotifier creates a notifier. An empty callbackURL disables it.
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		callbackURL: callbackURL,
		secret:      secret,
	}
}

// NotifierPayload is the body sent to the app backend.
type NotifierPayload struct {
	Event                 string `json:"event"`
	UserID                string `json:"user_id"`
	Platform              string `json:"platform"`
	ProductID             string `json:"product_id"`
	Status                string `json:"status"`
	Tier                  string `json:"tier"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	CurrentPeriodEnd      string `json:"current_period_end,omitempty"`
	Timestamp             string `json:"timestamp"`
}

// Hook returns a lifecycle transition hook delivering notifications from a
// goroutine so state machine callers never block on the backend.
func (n *WebhookNotifier) Hook() TransitionHook {
	return func(subscription *models.Subscription, event Event) {
		if n.callbackURL == "" {
			return
		}
		go n.deliver(subscription, event)
	}
}

func (n *WebhookNotifier) deliver(subscription *models.Subscription, event Event) {
	payload := NotifierPayload{
		Event:                 "subscription.updated",
		UserID:                subscription.UserID,
		Platform:              subscription.Platform,
		ProductID:             subscription.ProductID,
		Status:                subscription.Status,
		Tier:                  subscription.Tier,
		TransactionID:         subscription.TransactionID,
		OriginalTransactionID: subscription.OriginalTransactionID,
		Timestamp:             time.Now().Format(time.RFC3339),
	}
	if subscription.CurrentPeriodEnd != nil {
		payload.CurrentPeriodEnd = subscription.CurrentPeriodEnd.Format(time.RFC3339)
	}

	n.sendWithRetry(payload)
}

// sendWithRetry delivers with a fixed retry schedule: 1s, 5s, 30s.
func (n *WebhookNotifier) sendWithRetry(payload NotifierPayload) {
	retryDelays := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

	for attempt := 0; attempt < len(retryDelays); attempt++ {
		err := n.send(payload)
		if err == nil {
			logging.Infof("Backend notification sent - user: %s, status: %s, attempt: %d",
				payload.UserID, payload.Status, attempt+1)
			return
		}
		logging.Errorf("Backend notification failed - user: %s, attempt: %d: %v",
			payload.UserID, attempt+1, err)
		if attempt < len(retryDelays)-1 {
			time.Sleep(retryDelays[attempt])
		}
	}
}

func (n *WebhookNotifier) send(payload NotifierPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.callbackURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "entitlement-api/1.0")
	if n.secret != "" {
		req.Header.Set("X-Entitlement-Signature", signPayload(jsonData, n.secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// signPayload produces the HMAC-SHA256 hex signature the backend verifies.
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
