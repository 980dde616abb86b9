// Package notify implements SMS escalation for critical alerts via the
// Twilio REST API.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// TwilioNotifier implements emergency.SMSNotifier against the Twilio
// Messages endpoint.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTwilioNotifier creates a Twilio SMS notifier.
func NewTwilioNotifier(accountSID, authToken, fromNumber string, timeout time.Duration, logger zerolog.Logger) (*TwilioNotifier, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token, and from number are required")
	}
	return &TwilioNotifier{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    "https://api.twilio.com/2010-04-01",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "TwilioNotifier").Logger(),
	}, nil
}

// NotifyAlert sends the alert summary to each phone number. One failed
// recipient does not stop the rest; the first error is returned after all
// sends were attempted.
func (n *TwilioNotifier) NotifyAlert(ctx context.Context, phoneNumbers []string, alert *emergency.Alert) error {
	body := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(alert.Severity), alert.Title, alert.Message)

	var firstErr error
	for _, to := range phoneNumbers {
		if err := n.send(ctx, to, body); err != nil {
			n.logger.Error().Err(err).Str("to", to).Str("alert", alert.ID).Msg("Failed to send SMS.")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.logger.Info().Str("to", to).Str("alert", alert.ID).Msg("SMS sent.")
	}
	return firstErr
}

func (n *TwilioNotifier) send(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", n.baseURL, url.PathEscape(n.accountSID))
	form := url.Values{
		"To":   {to},
		"From": {n.fromNumber},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SMS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("SMS gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
