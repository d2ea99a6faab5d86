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
	"entitlement-api/pkg/logging"
)

// Apple reserves status 21007 for "sandbox receipt sent to production".
// The same binary serves reviewer and production traffic, so the validator
// retries the sandbox endpoint exactly once on this status.
const appleStatusSandboxReceipt = 21007

const appleStatusOK = 0

// AppleValidator validates receipts against the App Store verifyReceipt
// endpoint.
type AppleValidator struct {
	httpClient    *http.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
	retryAttempts int
}

// NewAppleValidator creates an Apple receipt validator.
func NewAppleValidator(productionURL, sandboxURL, sharedSecret string) *AppleValidator {
	return &AppleValidator{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		productionURL: productionURL,
		sandboxURL:    sandboxURL,
		sharedSecret:  sharedSecret,
		retryAttempts: 3,
	}
}

// Platform returns the store tag this validator serves.
func (v *AppleValidator) Platform() string {
	return models.PlatformApple
}

// appleReceiptResponse is the verifyReceipt response shape, limited to the
// fields the engine reads.
type appleReceiptResponse struct {
	Status            int    `json:"status"`
	Environment       string `json:"environment"`
	LatestReceipt     string `json:"latest_receipt"`
	LatestReceiptInfo []struct {
		TransactionID         string `json:"transaction_id"`
		OriginalTransactionID string `json:"original_transaction_id"`
		ProductID             string `json:"product_id"`
		PurchaseDateMS        string `json:"purchase_date_ms"`
		ExpiresDateMS         string `json:"expires_date_ms"`
		IsTrialPeriod         string `json:"is_trial_period"`
		CancellationDateMS    string `json:"cancellation_date_ms"`
	} `json:"latest_receipt_info"`
	PendingRenewalInfo []struct {
		AutoRenewStatus string `json:"auto_renew_status"`
	} `json:"pending_renewal_info"`
}

// Validate posts the receipt to the production endpoint and falls back to
// the sandbox endpoint once on the sandbox-redirect status. Any other
// non-zero status is a validation failure surfaced in the result, not an
// error.
func (v *AppleValidator) Validate(ctx context.Context, credential Credential) (*models.ValidationResult, error) {
	resp, err := v.verify(ctx, v.productionURL, credential.Receipt)
	if err != nil {
		return nil, err
	}

	if resp.Status == appleStatusSandboxReceipt {
		logging.Infof("Receipt is from sandbox, retrying with sandbox URL")
		resp, err = v.verify(ctx, v.sandboxURL, credential.Receipt)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status != appleStatusOK {
		return &models.ValidationResult{
			IsValid:      false,
			Platform:     models.PlatformApple,
			PaymentState: models.PaymentStateNone,
			Environment:  resp.Environment,
			Error:        fmt.Sprintf("apple verification status %d", resp.Status),
		}, nil
	}

	return v.toResult(resp)
}

// verify performs one verifyReceipt call against the given endpoint, with
// backoff on transport errors only.
func (v *AppleValidator) verify(ctx context.Context, url, receiptData string) (*appleReceiptResponse, error) {
	requestBody := map[string]interface{}{
		"receipt-data": receiptData,
	}
	if v.sharedSecret != "" {
		requestBody["password"] = v.sharedSecret
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var appleResp appleReceiptResponse
	err = withRetry(ctx, v.retryAttempts, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to verify receipt: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("apple verifyReceipt returned status %d", resp.StatusCode)
		}

		appleResp = appleReceiptResponse{}
		if err := json.Unmarshal(body, &appleResp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &appleResp, nil
}

// toResult normalizes a successful verifyReceipt response. The first entry
// of latest_receipt_info is the most recent transaction.
func (v *AppleValidator) toResult(resp *appleReceiptResponse) (*models.ValidationResult, error) {
	if len(resp.LatestReceiptInfo) == 0 {
		return &models.ValidationResult{
			IsValid:      false,
			Platform:     models.PlatformApple,
			PaymentState: models.PaymentStateNone,
			Environment:  resp.Environment,
			Error:        "no subscription found in receipt",
		}, nil
	}

	latest := resp.LatestReceiptInfo[0]

	purchasedAt, err := parseAppleMillis(latest.PurchaseDateMS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse purchase date: %w", err)
	}
	expiresAt, err := parseAppleMillis(latest.ExpiresDateMS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires date: %w", err)
	}

	autoRenewing := true
	if len(resp.PendingRenewalInfo) > 0 {
		autoRenewing = resp.PendingRenewalInfo[0].AutoRenewStatus == "1"
	}

	result := &models.ValidationResult{
		IsValid:               true,
		IsActive:              expiresAt.After(time.Now()),
		Platform:              models.PlatformApple,
		ProductID:             latest.ProductID,
		TransactionID:         latest.TransactionID,
		OriginalTransactionID: latest.OriginalTransactionID,
		PurchasedAt:           &purchasedAt,
		ExpiresAt:             &expiresAt,
		IsTrialPeriod:         latest.IsTrialPeriod == "true",
		AutoRenewing:          autoRenewing,
		PaymentState:          models.PaymentStateNone,
		AcknowledgmentState:   models.PaymentStateNone,
		Environment:           resp.Environment,
	}

	if latest.CancellationDateMS != "" {
		// Cancellation date on an Apple receipt means refund; the purchase
		// no longer entitles anything.
		result.IsActive = false
		reason := 0
		result.CancelReason = &reason
	}

	return result, nil
}

// parseAppleMillis parses Apple's millisecond epoch strings.
func parseAppleMillis(millis string) (time.Time, error) {
	if millis == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
