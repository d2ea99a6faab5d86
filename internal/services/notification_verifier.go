package services

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// NotificationVerifier establishes trust in a store-signed payload and
// returns the decoded claims JSON. Cryptographic chain verification is an
// injected capability: deployments supply an implementation pinned to the
// store's root certificates, tests supply a stub.
type NotificationVerifier interface {
	VerifyAndDecode(signedPayload string) ([]byte, error)
}

// JWSDecoder decodes a JWS payload without verifying its signature chain.
// It still rejects structurally invalid tokens. This is the default
// verifier for environments where authenticity is established upstream
// (e.g. an API gateway pinning Apple's certificates).
type JWSDecoder struct{}

// NewJWSDecoder creates the structural decoder.
func NewJWSDecoder() *JWSDecoder {
	return &JWSDecoder{}
}

// VerifyAndDecode parses the JWS and returns its claims as JSON.
func (d *JWSDecoder) VerifyAndDecode(signedPayload string) ([]byte, error) {
	return decodeJWSClaims(signedPayload)
}

// decodeJWSClaims extracts the claims of a JWS token without signature
// verification, re-encoded as JSON for unmarshaling into a concrete type.
func decodeJWSClaims(signedPayload string) ([]byte, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signedPayload, claims); err != nil {
		return nil, fmt.Errorf("invalid JWS token: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode claims: %w", err)
	}
	return payload, nil
}

// decodeJWSInto decodes a JWS token's claims into out.
func decodeJWSInto(signedPayload string, out interface{}) error {
	payload, err := decodeJWSClaims(signedPayload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return nil
}
