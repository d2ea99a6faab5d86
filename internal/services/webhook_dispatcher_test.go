package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-api/internal/models"
)

// makeJWS builds an unsigned-but-well-formed JWS carrying the given claims,
// matching what the structural JWSDecoder accepts.
func makeJWS(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "ES256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func appleNotificationBody(t *testing.T, notificationType, subtype, uuid string, signedDate time.Time, txClaims map[string]interface{}) []byte {
	t.Helper()
	claims := map[string]interface{}{
		"notificationType": notificationType,
		"notificationUUID": uuid,
		"signedDate":       signedDate.UnixMilli(),
		"data": map[string]interface{}{
			"bundleId":              "com.example.app",
			"environment":           "Production",
			"signedTransactionInfo": makeJWS(t, txClaims),
		},
	}
	if subtype != "" {
		claims["subtype"] = subtype
	}
	body, err := json.Marshal(models.AppStoreNotificationWrapper{SignedPayload: makeJWS(t, claims)})
	require.NoError(t, err)
	return body
}

func appleTxClaims(originalTransactionID string, purchasedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"transactionId":         "2000000999",
		"originalTransactionId": originalTransactionID,
		"productId":             "consumer_monthly",
		"appAccountToken":       "user-7",
		"purchaseDate":          purchasedAt.UnixMilli(),
		"expiresDate":           purchasedAt.Add(30 * 24 * time.Hour).UnixMilli(),
	}
}

func newAppleDispatcher(store *memStore) (*WebhookDispatcher, *Lifecycle) {
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(store, lifecycle, NewJWSDecoder(), nil, nil, nil)
	return dispatcher, lifecycle
}

func TestHandleAppleSubscribedCreatesRow(t *testing.T) {
	store := newMemStore()
	dispatcher, _ := newAppleDispatcher(store)

	purchasedAt := time.Now().Add(-time.Minute).UTC()
	body := appleNotificationBody(t, "SUBSCRIBED", "", "uuid-1", purchasedAt.Add(time.Second),
		appleTxClaims("orig-100", purchasedAt))

	require.NoError(t, dispatcher.HandleApple(context.Background(), body))

	row := store.get(models.PlatformApple, "orig-100")
	require.NotNil(t, row)
	assert.Equal(t, models.StatusActive, row.Status)
	assert.Equal(t, "user-7", row.UserID)

	require.Len(t, store.webhooks, 1)
	assert.True(t, store.webhooks[0].Processed)
	assert.Empty(t, store.webhooks[0].ProcessError)
	assert.Equal(t, "SUBSCRIBED", store.webhooks[0].NotificationType)
}

func TestHandleAppleCancellationStartsGrace(t *testing.T) {
	store := newMemStore()
	dispatcher, lifecycle := newAppleDispatcher(store)

	purchasedAt := time.Now().Add(-48 * time.Hour).UTC()
	_, _, err := lifecycle.ApplyValidation("user-7", Credential{Receipt: "r"}, activeResult("orig-100", purchasedAt))
	require.NoError(t, err)

	signedAt := purchasedAt.Add(24 * time.Hour)
	body := appleNotificationBody(t, "DID_CHANGE_RENEWAL_STATUS", "AUTO_RENEW_DISABLED", "uuid-2", signedAt,
		appleTxClaims("orig-100", purchasedAt))

	require.NoError(t, dispatcher.HandleApple(context.Background(), body))

	row := store.get(models.PlatformApple, "orig-100")
	require.NotNil(t, row)
	assert.Equal(t, models.StatusCanceled, row.Status)
	require.NotNil(t, row.GracePeriodEnd)
	assert.True(t, row.GracePeriodEnd.Equal(signedAt.Add(7*24*time.Hour).Truncate(time.Millisecond)))
}

func TestHandleAppleDuplicateNotificationIsNoop(t *testing.T) {
	store := newMemStore()
	dispatcher, _ := newAppleDispatcher(store)

	purchasedAt := time.Now().Add(-time.Hour).UTC()
	body := appleNotificationBody(t, "SUBSCRIBED", "", "uuid-3", purchasedAt.Add(time.Second),
		appleTxClaims("orig-200", purchasedAt))

	require.NoError(t, dispatcher.HandleApple(context.Background(), body))
	first := store.get(models.PlatformApple, "orig-200")

	// Without a replay guard the watermark still absorbs the redelivery.
	require.NoError(t, dispatcher.HandleApple(context.Background(), body))
	second := store.get(models.PlatformApple, "orig-200")
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.LastEventAt.Equal(second.LastEventAt))
}

func TestHandleAppleHeartbeat(t *testing.T) {
	store := newMemStore()
	dispatcher, _ := newAppleDispatcher(store)

	payload := makeJWS(t, map[string]interface{}{"signedDate": time.Now().UnixMilli()})
	body, err := json.Marshal(models.AppStoreNotificationWrapper{SignedPayload: payload})
	require.NoError(t, err)

	require.NoError(t, dispatcher.HandleApple(context.Background(), body))
	assert.Empty(t, store.webhooks)
	assert.Equal(t, 0, store.count())
}

func TestHandleAppleUnmappedTypeIgnored(t *testing.T) {
	store := newMemStore()
	dispatcher, _ := newAppleDispatcher(store)

	purchasedAt := time.Now().UTC()
	body := appleNotificationBody(t, "CONSUMPTION_REQUEST", "", "uuid-4", purchasedAt,
		appleTxClaims("orig-300", purchasedAt))

	require.NoError(t, dispatcher.HandleApple(context.Background(), body))
	assert.Equal(t, 0, store.count())

	// Still durably recorded and marked processed.
	require.Len(t, store.webhooks, 1)
	assert.True(t, store.webhooks[0].Processed)
}

func TestHandleAppleMalformedBody(t *testing.T) {
	store := newMemStore()
	dispatcher, _ := newAppleDispatcher(store)

	err := dispatcher.HandleApple(context.Background(), []byte("not json"))
	assert.True(t, errors.Is(err, ErrWebhookBadPayload))

	err = dispatcher.HandleApple(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrWebhookBadPayload))

	err = dispatcher.HandleApple(context.Background(), []byte(`{"signedPayload":"garbage"}`))
	assert.True(t, errors.Is(err, ErrWebhookUnauthorized))
}

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyAndDecode(string) ([]byte, error) {
	return nil, errors.New("signature chain mismatch")
}

func TestHandleAppleVerifierRejection(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(store, lifecycle, rejectingVerifier{}, nil, nil, nil)

	body := appleNotificationBody(t, "SUBSCRIBED", "", "uuid-5", time.Now(),
		appleTxClaims("orig-400", time.Now()))

	err := dispatcher.HandleApple(context.Background(), body)
	assert.True(t, errors.Is(err, ErrWebhookUnauthorized))
	assert.Empty(t, store.webhooks)
}

func googleNotificationBody(t *testing.T, notificationType int, purchaseToken string, eventTime time.Time) []byte {
	t.Helper()
	notification := models.DeveloperNotification{
		Version:         "1.0",
		PackageName:     "com.example.app",
		EventTimeMillis: "",
		SubscriptionNotification: &models.SubscriptionNotification{
			Version:          "1.0",
			NotificationType: notificationType,
			PurchaseToken:    purchaseToken,
			SubscriptionID:   "consumer_monthly",
		},
	}
	notification.EventTimeMillis = strconv.FormatInt(eventTime.UnixMilli(), 10)
	inner, err := json.Marshal(notification)
	require.NoError(t, err)

	var envelope models.PubSubEnvelope
	envelope.Message.Data = base64.StdEncoding.EncodeToString(inner)
	envelope.Message.MessageID = "msg-" + purchaseToken
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body
}

func TestHandleGoogleCanceledAppliesToExistingRow(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(store, lifecycle, NewJWSDecoder(), nil, nil, nil)

	purchasedAt := time.Now().Add(-48 * time.Hour).UTC()
	require.NoError(t, store.Save(&models.Subscription{
		UserID:                "user-9",
		Platform:              models.PlatformAndroid,
		ProductID:             "consumer_monthly",
		OriginalTransactionID: "token-9",
		Status:                models.StatusActive,
		LastEventAt:           purchasedAt,
	}))

	body := googleNotificationBody(t, models.GoogleNotifCanceled, "token-9", purchasedAt.Add(24*time.Hour))
	require.NoError(t, dispatcher.HandleGoogle(context.Background(), body))

	row := store.get(models.PlatformAndroid, "token-9")
	require.NotNil(t, row)
	assert.Equal(t, models.StatusCanceled, row.Status)
	require.NotNil(t, row.GracePeriodEnd)

	require.Len(t, store.webhooks, 1)
	assert.True(t, store.webhooks[0].Processed)
	assert.Equal(t, "3", store.webhooks[0].NotificationType)
}

func TestHandleGoogleEnrichesFromStore(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)

	result := androidResult("token-10", 0)
	result.ObfuscatedAccountID = "play-user"
	validator := &fakeValidator{platform: models.PlatformAndroid, result: result}
	acknowledger := &fakeAcknowledger{}
	dispatcher := NewWebhookDispatcher(store, lifecycle, NewJWSDecoder(), nil, validator, acknowledger)

	body := googleNotificationBody(t, models.GoogleNotifPurchased, "token-10", time.Now().UTC())
	require.NoError(t, dispatcher.HandleGoogle(context.Background(), body))

	// The bare notification carried no purchase state; the dispatcher
	// fetched it, acknowledged it, and created the row for the account the
	// purchase reports.
	assert.Equal(t, 1, acknowledger.calls)
	row := store.get(models.PlatformAndroid, "token-10")
	require.NotNil(t, row)
	assert.Equal(t, models.StatusActive, row.Status)
	assert.Equal(t, "play-user", row.UserID)
}

func TestHandleGoogleTestNotification(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(store, lifecycle, NewJWSDecoder(), nil, nil, nil)

	inner, err := json.Marshal(models.DeveloperNotification{
		Version:          "1.0",
		PackageName:      "com.example.app",
		EventTimeMillis:  "1700000000000",
		TestNotification: &models.TestNotification{Version: "1.0"},
	})
	require.NoError(t, err)

	var envelope models.PubSubEnvelope
	envelope.Message.Data = base64.StdEncoding.EncodeToString(inner)
	envelope.Message.MessageID = "msg-test"
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	require.NoError(t, dispatcher.HandleGoogle(context.Background(), body))
	assert.Empty(t, store.webhooks)
}

// failingMarkStore breaks the processing-outcome bookkeeping while
// keeping the durable record working.
type failingMarkStore struct {
	*memStore
}

func (s *failingMarkStore) MarkWebhookProcessed(uint, string) error {
	return errors.New("bookkeeping table unavailable")
}

func TestHandleAppleMarkFailureStillAcks(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(&failingMarkStore{store}, lifecycle, NewJWSDecoder(), nil, nil, nil)

	purchasedAt := time.Now().Add(-time.Minute).UTC()
	body := appleNotificationBody(t, "SUBSCRIBED", "", "uuid-6", purchasedAt.Add(time.Second),
		appleTxClaims("orig-500", purchasedAt))

	// Once the notification is durably recorded the store is always acked,
	// even when the outcome bookkeeping fails.
	require.NoError(t, dispatcher.HandleApple(context.Background(), body))
	require.Len(t, store.webhooks, 1)
	require.NotNil(t, store.get(models.PlatformApple, "orig-500"))
}

func TestHandleGoogleMalformedEnvelope(t *testing.T) {
	store := newMemStore()
	lifecycle := NewLifecycle(store, 7)
	dispatcher := NewWebhookDispatcher(store, lifecycle, NewJWSDecoder(), nil, nil, nil)

	err := dispatcher.HandleGoogle(context.Background(), []byte("not json"))
	assert.True(t, errors.Is(err, ErrWebhookBadPayload))

	var envelope models.PubSubEnvelope
	envelope.Message.Data = "%%% not base64 %%%"
	body, _ := json.Marshal(envelope)
	err = dispatcher.HandleGoogle(context.Background(), body)
	assert.True(t, errors.Is(err, ErrWebhookBadPayload))
}
