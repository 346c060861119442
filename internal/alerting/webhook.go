package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Signature-256"

// WebhookNotifier posts a JSON trigger payload to a URL.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a generic webhook notifier.
func NewWebhookNotifier(url, secret string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	Event            string  `json:"event"`
	TriggerID        string  `json:"trigger_id"`
	AlertID          int64   `json:"alert_id"`
	MortgageID       int64   `json:"mortgage_id"`
	Kind             string  `json:"kind"`
	FiredAt          string  `json:"fired_at"`
	Reason           string  `json:"reason"`
	RateAtTrigger    string  `json:"rate_at_trigger"`
	TermYears        int     `json:"term_years"`
	PotentialPayment *string `json:"potential_payment,omitempty"`
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	payload := webhookPayload{
		Event:         "refinance_alert",
		TriggerID:     note.Trigger.ID.String(),
		AlertID:       note.Alert.ID,
		MortgageID:    note.Alert.MortgageID,
		Kind:          string(note.Alert.Kind),
		FiredAt:       note.Trigger.FiredAt.UTC().Format(time.RFC3339),
		Reason:        note.Trigger.Reason,
		RateAtTrigger: note.Trigger.RateAtTrigger.String(),
		TermYears:     note.Term.Years(),
	}
	if note.PotentialPayment != nil {
		v := note.PotentialPayment.StringFixed(2)
		payload.PotentialPayment = &v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ratewatch/1.0")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Info().Int64("alert_id", note.Alert.ID).Msg("告警已发送 (webhook)")
	return nil
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = Multi(nil)
)
