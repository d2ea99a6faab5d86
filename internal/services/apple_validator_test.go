package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appleSuccessBody(environment string, expiresAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":      0,
		"environment": environment,
		"latest_receipt_info": []map[string]string{
			{
				"transaction_id":          "2000000123",
				"original_transaction_id": "1000000456",
				"product_id":              "consumer_monthly",
				"purchase_date_ms":        strconv.FormatInt(expiresAt.Add(-30*24*time.Hour).UnixMilli(), 10),
				"expires_date_ms":         strconv.FormatInt(expiresAt.UnixMilli(), 10),
				"is_trial_period":         "false",
			},
		},
		"pending_renewal_info": []map[string]string{
			{"auto_renew_status": "1"},
		},
	}
}

func TestAppleValidateSandboxFallback(t *testing.T) {
	var productionCalls, sandboxCalls int32

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&productionCalls, 1)
		json.NewEncoder(w).Encode(map[string]int{"status": 21007})
	}))
	defer production.Close()

	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sandboxCalls, 1)
		json.NewEncoder(w).Encode(appleSuccessBody("Sandbox", time.Now().Add(30*24*time.Hour)))
	}))
	defer sandbox.Close()

	validator := NewAppleValidator(production.URL, sandbox.URL, "secret")
	result, err := validator.Validate(context.Background(), Credential{Receipt: "sandbox-receipt"})
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.True(t, result.IsActive)
	assert.Equal(t, "Sandbox", result.Environment)
	assert.Equal(t, "1000000456", result.OriginalTransactionID)
	assert.Equal(t, "consumer_monthly", result.ProductID)
	assert.True(t, result.AutoRenewing)

	// The sandbox redirect is taken exactly once, not looped.
	assert.Equal(t, int32(1), atomic.LoadInt32(&productionCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&sandboxCalls))
}

func TestAppleValidateBadStatusIsResultNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"status": 21003})
	}))
	defer server.Close()

	validator := NewAppleValidator(server.URL, server.URL, "")
	result, err := validator.Validate(context.Background(), Credential{Receipt: "bad"})
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "21003")
}

func TestAppleValidateExpiredReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(appleSuccessBody("Production", time.Now().Add(-24*time.Hour)))
	}))
	defer server.Close()

	validator := NewAppleValidator(server.URL, server.URL, "")
	result, err := validator.Validate(context.Background(), Credential{Receipt: "expired"})
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.False(t, result.IsActive)
}

func TestAppleValidateRefundedReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := appleSuccessBody("Production", time.Now().Add(30*24*time.Hour))
		info := body["latest_receipt_info"].([]map[string]string)
		info[0]["cancellation_date_ms"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	validator := NewAppleValidator(server.URL, server.URL, "")
	result, err := validator.Validate(context.Background(), Credential{Receipt: "refunded"})
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.False(t, result.IsActive)
	require.NotNil(t, result.CancelReason)
}

func TestAppleValidateRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(appleSuccessBody("Production", time.Now().Add(30*24*time.Hour)))
	}))
	defer server.Close()

	validator := NewAppleValidator(server.URL, server.URL, "")
	result, err := validator.Validate(context.Background(), Credential{Receipt: "flaky"})
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAppleValidateSendsSharedSecret(t *testing.T) {
	var gotPassword string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotPassword = body["password"]
		json.NewEncoder(w).Encode(appleSuccessBody("Production", time.Now().Add(30*24*time.Hour)))
	}))
	defer server.Close()

	validator := NewAppleValidator(server.URL, server.URL, "shared-secret")
	_, err := validator.Validate(context.Background(), Credential{Receipt: "r"})
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", gotPassword)
}

func TestParseAppleMillis(t *testing.T) {
	parsed, err := parseAppleMillis("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), parsed.UnixMilli())

	_, err = parseAppleMillis("")
	assert.Error(t, err)

	_, err = parseAppleMillis("not-a-number")
	assert.Error(t, err)
}
