// Package notify delivers one-time passcodes to users.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-auth/internal/constants"
	"go.uber.org/zap"
)

// Message is a passcode addressed to an identity.
type Message struct {
	IdentityID string `json:"identity_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Code       string `json:"code"`
}

// Deliverer sends a passcode to its owner.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogDeliverer writes passcodes to the log. Meant for development.
type LogDeliverer struct {
	log *zap.Logger
}

// NewLogDeliverer creates a deliverer that logs passcodes at info level
func NewLogDeliverer(log *zap.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

// Deliver logs the passcode.
func (d *LogDeliverer) Deliver(ctx context.Context, msg Message) error {
	d.log.Info("one-time passcode issued",
		zap.String("identity_id", msg.IdentityID),
		zap.String("email", msg.Email),
		zap.String("code", msg.Code),
	)
	return nil
}

// WebhookDeliverer posts passcodes as JSON to an HTTP endpoint.
type WebhookDeliverer struct {
	url     string
	retries int
	backoff time.Duration
	client  *http.Client
	log     *zap.Logger
}

// NewWebhookDeliverer creates a deliverer posting to url
func NewWebhookDeliverer(url string, log *zap.Logger) *WebhookDeliverer {
	return &WebhookDeliverer{
		url:     url,
		retries: constants.OTPDeliveryRetries,
		backoff: 500 * time.Millisecond,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Deliver posts msg, retrying failed attempts with linear backoff.
func (d *WebhookDeliverer) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if lastErr = d.post(ctx, body); lastErr == nil {
			return nil
		}
		d.log.Warn("otp delivery failed",
			zap.String("identity_id", msg.IdentityID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == d.retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("otp delivery cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	return fmt.Errorf("otp delivery failed after %d attempts: %w", d.retries, lastErr)
}

func (d *WebhookDeliverer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
