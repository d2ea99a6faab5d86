package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"entitlement-api/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const androidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"

// GoogleValidator calls the Google Play Developer API for subscription
// purchases. The OAuth2 token source is built once from the service-account
// key and cached for the life of the process; the oauth2 transport refreshes
// bearer tokens on expiry.
type GoogleValidator struct {
	httpClient    *http.Client
	baseURL       string
	packageName   string
	retryAttempts int
}

// NewGoogleValidator creates a validator authenticated with a
// service-account JSON key.
func NewGoogleValidator(ctx context.Context, serviceAccountJSON []byte, packageName, baseURL string) (*GoogleValidator, error) {
	jwtConfig, err := google.JWTConfigFromJSON(serviceAccountJSON, androidPublisherScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}

	client := oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx))
	client.Timeout = 10 * time.Second

	return &GoogleValidator{
		httpClient:    client,
		baseURL:       baseURL,
		packageName:   packageName,
		retryAttempts: 3,
	}, nil
}

// NewGoogleValidatorWithClient creates a validator on a caller-provided
// HTTP client. Used by tests with httptest servers and a static token.
func NewGoogleValidatorWithClient(client *http.Client, packageName, baseURL string) *GoogleValidator {
	return &GoogleValidator{
		httpClient:    client,
		baseURL:       baseURL,
		packageName:   packageName,
		retryAttempts: 3,
	}
}

// Platform returns the store tag this validator serves.
func (v *GoogleValidator) Platform() string {
	return models.PlatformAndroid
}

func (v *GoogleValidator) subscriptionURL(productID, purchaseToken string) string {
	return fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		v.baseURL, v.packageName, productID, purchaseToken)
}

// Validate fetches the subscription purchase resource. HTTP 404 and 410 are
// expected non-exceptional outcomes (token revoked or purged) and map to an
// invalid result with no error; other non-2xx responses are propagated.
func (v *GoogleValidator) Validate(ctx context.Context, credential Credential) (*models.ValidationResult, error) {
	var purchase *models.SubscriptionPurchase
	var notFound bool

	err := withRetry(ctx, v.retryAttempts, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.subscriptionURL(credential.ProductID, credential.PurchaseToken), nil)
		if err != nil {
			return err
		}

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch subscription: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var p models.SubscriptionPurchase
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("failed to parse subscription resource: %w", err)
			}
			purchase = &p
			return nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			notFound = true
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("google play API returned status %d", resp.StatusCode)
		default:
			// 401/403 and other client errors are terminal for this call.
			return &terminalHTTPError{status: resp.StatusCode}
		}
	})
	if err != nil {
		return nil, err
	}

	if notFound {
		return &models.ValidationResult{
			IsValid:               false,
			Platform:              models.PlatformAndroid,
			ProductID:             credential.ProductID,
			OriginalTransactionID: credential.PurchaseToken,
			PaymentState:          models.PaymentStateNone,
			AcknowledgmentState:   models.PaymentStateNone,
			Error:                 "not found",
		}, nil
	}

	return v.toResult(credential, purchase), nil
}

// toResult normalizes a subscription purchase resource. The purchase token
// is the lifetime identity of the subscription across renewals, so it
// doubles as the original transaction id.
func (v *GoogleValidator) toResult(credential Credential, purchase *models.SubscriptionPurchase) *models.ValidationResult {
	paymentState := models.PaymentStateNone
	if purchase.PaymentState != nil {
		paymentState = *purchase.PaymentState
	}
	ackState := models.PaymentStateNone
	if purchase.AcknowledgementState != nil {
		ackState = *purchase.AcknowledgementState
	}

	var startedAt, expiresAt *time.Time
	if t, ok := parseGoogleMillis(purchase.StartTimeMillis); ok {
		startedAt = &t
	}
	if t, ok := parseGoogleMillis(purchase.ExpiryTimeMillis); ok {
		expiresAt = &t
	}

	priceMicros, _ := strconv.ParseInt(purchase.PriceAmountMicros, 10, 64)

	now := time.Now()
	active := expiresAt != nil && now.Before(*expiresAt) &&
		(paymentState == models.PaymentStateReceived || paymentState == models.PaymentStateFreeTrial) &&
		(purchase.CancelReason == nil || purchase.AutoRenewing)

	return &models.ValidationResult{
		IsValid:               true,
		IsActive:              active,
		Platform:              models.PlatformAndroid,
		ProductID:             credential.ProductID,
		TransactionID:         purchase.OrderID,
		OriginalTransactionID: credential.PurchaseToken,
		PurchasedAt:           startedAt,
		ExpiresAt:             expiresAt,
		IsTrialPeriod:         paymentState == models.PaymentStateFreeTrial,
		AutoRenewing:          purchase.AutoRenewing,
		ObfuscatedAccountID:   purchase.ObfuscatedAccountID,
		PaymentState:          paymentState,
		AcknowledgmentState:   ackState,
		CancelReason:          purchase.CancelReason,
		OrderID:               purchase.OrderID,
		PriceAmountMicros:     priceMicros,
		PriceCurrencyCode:     purchase.PriceCurrencyCode,
		Environment:           "production",
	}
}

// Acknowledge confirms the purchase to the store. Required within the
// store's deadline or the purchase is auto-refunded.
func (v *GoogleValidator) Acknowledge(ctx context.Context, productID, purchaseToken string) error {
	return v.post(ctx, v.subscriptionURL(productID, purchaseToken)+":acknowledge", nil)
}

// Cancel cancels the subscription on the store side.
func (v *GoogleValidator) Cancel(ctx context.Context, productID, purchaseToken string) error {
	return v.post(ctx, v.subscriptionURL(productID, purchaseToken)+":cancel", nil)
}

// Defer moves the next billing date. Both times are millisecond epochs; the
// store rejects the call when expectedExpiry does not match its view.
func (v *GoogleValidator) Defer(ctx context.Context, productID, purchaseToken string, expectedExpiryMillis, desiredExpiryMillis int64) error {
	body := map[string]interface{}{
		"deferralInfo": map[string]string{
			"expectedExpiryTimeMillis": strconv.FormatInt(expectedExpiryMillis, 10),
			"desiredExpiryTimeMillis":  strconv.FormatInt(desiredExpiryMillis, 10),
		},
	}
	return v.post(ctx, v.subscriptionURL(productID, purchaseToken)+":defer", body)
}

func (v *GoogleValidator) post(ctx context.Context, url string, body interface{}) error {
	return withRetry(ctx, v.retryAttempts, 500*time.Millisecond, func() error {
		var reader io.Reader
		if body != nil {
			jsonData, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("google play API returned status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &terminalHTTPError{status: resp.StatusCode}
		}
		return nil
	})
}

// terminalHTTPError marks a non-retryable store response such as an
// authentication failure. withRetry gives up immediately on these.
type terminalHTTPError struct {
	status int
}

func (e *terminalHTTPError) Error() string {
	return fmt.Sprintf("google play API returned status %d", e.status)
}

func (e *terminalHTTPError) Terminal() bool {
	return true
}

func parseGoogleMillis(millis string) (time.Time, bool) {
	if millis == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
