package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

const brevoSendURL = "https://api.brevo.com/v3/smtp/email"

// WinBackMailer emails a win-back offer when a subscription transitions to
// canceled. Best effort: a mail failure never affects the lifecycle.
type WinBackMailer struct {
	httpClient *http.Client
	apiKey     string
	fromEmail  string
	fromName   string

	// resolveEmail maps a user id to a contact address; user accounts are
	// owned by the app backend, not by this service.
	resolveEmail func(userID string) (string, bool)
}

// NewWinBackMailer creates a mailer. An empty apiKey disables it.
func NewWinBackMailer(apiKey, fromEmail, fromName string, resolveEmail func(userID string) (string, bool)) *WinBackMailer {
	return &WinBackMailer{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		apiKey:       apiKey,
		fromEmail:    fromEmail,
		fromName:     fromName,
		resolveEmail: resolveEmail,
	}
}

// brevoEmailRequest is the Brevo transactional email request shape.
type brevoEmailRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent"`
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Hook returns a lifecycle hook that mails the computed offer on
// cancellation, from a goroutine.
func (m *WinBackMailer) Hook() TransitionHook {
	return func(subscription *models.Subscription, event Event) {
		if m.apiKey == "" || event.Type != EventCanceled {
			return
		}
		if subscription.CanceledAt == nil || subscription.UserID == "" {
			return
		}
		go m.sendOffer(subscription)
	}
}

func (m *WinBackMailer) sendOffer(subscription *models.Subscription) {
	email, ok := m.resolveEmail(subscription.UserID)
	if !ok || email == "" {
		logging.Infof("No contact address for user %s, skipping win-back offer", subscription.UserID)
		return
	}

	offer := WinBackOfferFor(*subscription.CanceledAt, time.Now())

	subject := "We'd love to have you back"
	var body string
	if offer.FreeTrialOnly {
		body = fmt.Sprintf("Come back with a %d-day free trial, available for the next %d days.",
			offer.TrialDays, offer.WindowDays)
	} else if offer.TrialDays > 0 {
		body = fmt.Sprintf("Come back with %d%% off plus a %d-day trial, available for the next %d days.",
			offer.DiscountPercent, offer.TrialDays, offer.WindowDays)
	} else {
		body = fmt.Sprintf("Come back with %d%% off, available for the next %d days.",
			offer.DiscountPercent, offer.WindowDays)
	}

	req := brevoEmailRequest{
		Sender:      brevoContact{Name: m.fromName, Email: m.fromEmail},
		To:          []brevoContact{{Email: email}},
		Subject:     subject,
		HTMLContent: fmt.Sprintf("<html><body><p>%s</p></body></html>", body),
		TextContent: body,
	}

	if err := m.send(req); err != nil {
		logging.Errorf("Failed to send win-back offer to user %s: %v", subscription.UserID, err)
		return
	}
	logging.Infof("Win-back offer sent - user: %s, discount: %d%%, trial_days: %d",
		subscription.UserID, offer.DiscountPercent, offer.TrialDays)
}

func (m *WinBackMailer) send(req brevoEmailRequest) error {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, brevoSendURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", m.apiKey)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}
	return nil
}
