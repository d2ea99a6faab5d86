package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// Dispatcher failure classes the HTTP layer maps to status codes. Anything
// after the durable record is not an error to the store: the handler acks
// 200 and the failure is retried internally.
var (
	ErrWebhookBadPayload   = errors.New("malformed webhook payload")
	ErrWebhookUnauthorized = errors.New("webhook authenticity check failed")
)

// WebhookDispatcher turns store-pushed notifications into lifecycle
// events. Authenticity is checked before content is trusted; the raw body
// is durably recorded before processing so the store can be acked even when
// downstream handling fails.
type WebhookDispatcher struct {
	store     SubscriptionStore
	lifecycle *Lifecycle
	verifier  NotificationVerifier
	replay    *ReplayGuard

	// Google Play notifications carry no purchase state, only a token;
	// the dispatcher fetches the subscription resource to build the event.
	googleValidator    ReceiptValidator
	googleAcknowledger PurchaseAcknowledger
}

// NewWebhookDispatcher wires the dispatcher. replay may be nil (no
// de-dup); googleValidator/googleAcknowledger may be nil when Android is
// not configured.
func NewWebhookDispatcher(store SubscriptionStore, lifecycle *Lifecycle, verifier NotificationVerifier, replay *ReplayGuard, googleValidator ReceiptValidator, googleAcknowledger PurchaseAcknowledger) *WebhookDispatcher {
	return &WebhookDispatcher{
		store:              store,
		lifecycle:          lifecycle,
		verifier:           verifier,
		replay:             replay,
		googleValidator:    googleValidator,
		googleAcknowledger: googleAcknowledger,
	}
}

// HandleApple processes an App Store Server Notification V2 body.
func (d *WebhookDispatcher) HandleApple(ctx context.Context, rawBody []byte) error {
	if len(rawBody) == 0 {
		return fmt.Errorf("%w: empty body", ErrWebhookBadPayload)
	}

	var wrapper models.AppStoreNotificationWrapper
	if err := json.Unmarshal(rawBody, &wrapper); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookBadPayload, err)
	}
	if wrapper.SignedPayload == "" {
		return fmt.Errorf("%w: signedPayload is missing", ErrWebhookBadPayload)
	}

	payload, err := d.verifier.VerifyAndDecode(wrapper.SignedPayload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookUnauthorized, err)
	}

	var notification models.AppStoreNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookBadPayload, err)
	}

	// Apple sends a typeless payload as an endpoint liveness probe.
	if notification.NotificationType == "" {
		logging.Infof("App Store heartbeat received")
		return nil
	}

	if d.replay != nil && d.replay.IsReplay(ctx, notification.NotificationUUID, notification.SignedDate) {
		logging.Infof("Duplicate App Store notification dropped - uuid: %s", notification.NotificationUUID)
		return nil
	}

	record := &models.WebhookRecord{
		Platform:         models.PlatformApple,
		NotificationUUID: notification.NotificationUUID,
		NotificationType: notification.NotificationType,
		RawBody:          string(rawBody),
	}
	if err := d.store.RecordWebhook(record); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if err := d.processApple(&notification); err != nil {
		logging.Errorf("App Store notification processing failed - type: %s, uuid: %s: %v",
			notification.NotificationType, notification.NotificationUUID, err)
		d.markProcessed(record.ID, err.Error())
		return nil
	}
	d.markProcessed(record.ID, "")
	return nil
}

// markProcessed records the processing outcome. The notification is
// already durably recorded, so a bookkeeping failure here is logged and
// never bubbles into the store's ack.
func (d *WebhookDispatcher) markProcessed(recordID uint, processErr string) {
	if err := d.store.MarkWebhookProcessed(recordID, processErr); err != nil {
		logging.Errorf("Failed to mark notification record %d processed: %v", recordID, err)
	}
}

func (d *WebhookDispatcher) processApple(notification *models.AppStoreNotification) error {
	eventType, mapped := AppleEventFor(notification.NotificationType, notification.Subtype)
	if !mapped {
		// Unmapped types never default into a state change.
		logging.Infof("Unmapped App Store notification type %s/%s ignored",
			notification.NotificationType, notification.Subtype)
		return nil
	}

	var txInfo models.AppStoreTransactionInfo
	if err := decodeJWSInto(notification.Data.SignedTransactionInfo, &txInfo); err != nil {
		return fmt.Errorf("failed to decode transaction info: %w", err)
	}
	if txInfo.OriginalTransactionID == "" {
		return fmt.Errorf("notification carries no original transaction id")
	}

	event := Event{
		Type:       eventType,
		OccurredAt: time.UnixMilli(notification.SignedDate).UTC(),
		Result:     appleTransactionResult(&txInfo, notification.Data.Environment),
	}

	_, changed, err := d.lifecycle.ApplyEvent(models.PlatformApple, txInfo.OriginalTransactionID, txInfo.AppAccountToken, event)
	if err != nil {
		return err
	}

	logging.Infof("App Store notification applied - type: %s, event: %s, original_transaction: %s, changed: %v",
		notification.NotificationType, eventType, txInfo.OriginalTransactionID, changed)
	return nil
}

// appleTransactionResult lifts a decoded transaction payload into the
// common validation result shape so purchase-bearing webhook events can
// create or refresh rows.
func appleTransactionResult(txInfo *models.AppStoreTransactionInfo, environment string) *models.ValidationResult {
	purchasedAt := time.UnixMilli(txInfo.PurchaseDateMS).UTC()
	expiresAt := time.UnixMilli(txInfo.ExpiresDateMS).UTC()

	return &models.ValidationResult{
		IsValid:               true,
		IsActive:              expiresAt.After(time.Now()) && txInfo.RevocationDateMS == 0,
		Platform:              models.PlatformApple,
		ProductID:             txInfo.ProductID,
		TransactionID:         txInfo.TransactionID,
		OriginalTransactionID: txInfo.OriginalTransactionID,
		PurchasedAt:           &purchasedAt,
		ExpiresAt:             &expiresAt,
		AutoRenewing:          true,
		PaymentState:          models.PaymentStateNone,
		AcknowledgmentState:   models.PaymentStateNone,
		Environment:           environment,
	}
}

// HandleGoogle processes a Google Play RTDN delivered in a Pub/Sub push
// envelope.
func (d *WebhookDispatcher) HandleGoogle(ctx context.Context, rawBody []byte) error {
	var envelope models.PubSubEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookBadPayload, err)
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 data: %v", ErrWebhookBadPayload, err)
	}

	var notification models.DeveloperNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookBadPayload, err)
	}

	if notification.TestNotification != nil {
		logging.Infof("Google Play test notification received")
		return nil
	}
	if notification.SubscriptionNotification == nil {
		// One-time product and voided-purchase notifications are not part
		// of the subscription lifecycle.
		logging.Infof("Non-subscription Google Play notification ignored")
		return nil
	}

	sub := notification.SubscriptionNotification
	if sub.PurchaseToken == "" || sub.SubscriptionID == "" {
		return fmt.Errorf("%w: missing purchase token or subscription id", ErrWebhookBadPayload)
	}

	if d.replay != nil && envelope.Message.MessageID != "" {
		eventMillis, _ := strconv.ParseInt(notification.EventTimeMillis, 10, 64)
		if d.replay.IsReplay(ctx, envelope.Message.MessageID, eventMillis) {
			logging.Infof("Duplicate Google Play notification dropped - message: %s", envelope.Message.MessageID)
			return nil
		}
	}

	record := &models.WebhookRecord{
		Platform:         models.PlatformAndroid,
		NotificationUUID: envelope.Message.MessageID,
		NotificationType: strconv.Itoa(sub.NotificationType),
		RawBody:          string(rawBody),
	}
	if err := d.store.RecordWebhook(record); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if err := d.processGoogle(ctx, &notification); err != nil {
		logging.Errorf("Google Play notification processing failed - type: %d, token: %s: %v",
			sub.NotificationType, sub.PurchaseToken, err)
		d.markProcessed(record.ID, err.Error())
		return nil
	}
	d.markProcessed(record.ID, "")
	return nil
}

func (d *WebhookDispatcher) processGoogle(ctx context.Context, notification *models.DeveloperNotification) error {
	sub := notification.SubscriptionNotification

	eventType, mapped := GoogleEventFor(sub.NotificationType)
	if !mapped {
		logging.Infof("Unmapped Google Play notification type %d ignored", sub.NotificationType)
		return nil
	}

	occurredAt := time.Now().UTC()
	if millis, err := strconv.ParseInt(notification.EventTimeMillis, 10, 64); err == nil {
		occurredAt = time.UnixMilli(millis).UTC()
	}

	event := Event{Type: eventType, OccurredAt: occurredAt}

	// Enrich with the store's current view of the purchase. A fetch
	// failure still applies the bare event to an existing row.
	userID := ""
	if d.googleValidator != nil {
		credential := Credential{ProductID: sub.SubscriptionID, PurchaseToken: sub.PurchaseToken}
		result, err := d.googleValidator.Validate(ctx, credential)
		if err != nil {
			logging.Errorf("Failed to fetch purchase state for notification: %v", err)
		} else if result.IsValid {
			event.Result = result
			userID = result.ObfuscatedAccountID

			if result.AcknowledgmentState == 0 && d.googleAcknowledger != nil {
				if err := d.googleAcknowledger.Acknowledge(ctx, sub.SubscriptionID, sub.PurchaseToken); err != nil {
					return fmt.Errorf("failed to acknowledge purchase: %w", err)
				}
				result.AcknowledgmentState = 1
			}
		}
	}

	if userID == "" {
		if existing, err := d.store.FindByPurchaseToken(sub.PurchaseToken); err == nil && existing != nil {
			userID = existing.UserID
		}
	}

	_, changed, err := d.lifecycle.ApplyEvent(models.PlatformAndroid, sub.PurchaseToken, userID, event)
	if err != nil {
		return err
	}

	logging.Infof("Google Play notification applied - type: %d, event: %s, token: %s, changed: %v",
		sub.NotificationType, eventType, sub.PurchaseToken, changed)
	return nil
}
