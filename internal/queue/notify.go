package queue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body when the
// job sets a webhook secret.
const SignatureHeader = "X-Seekr-Signature"

// Notifier posts job completion webhooks.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier with a bounded HTTP client.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type webhookPayload struct {
	JobID      string    `json:"job_id"`
	Type       JobType   `json:"type"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	ResultURL  string    `json:"result_url"`
	FinishedAt int64     `json:"finished_at"`
}

// Notify sends the webhook for a finished job in the background.
func (n *Notifier) Notify(job *Job) {
	if job.Notify == nil || job.Notify.WebhookURL == "" {
		return
	}

	payload := webhookPayload{
		JobID:      job.ID,
		Type:       job.Type,
		Status:     job.Status,
		Error:      job.Error,
		ResultURL:  fmt.Sprintf("/seekr/jobs/%s/result", job.ID),
		FinishedAt: job.CompletedAt,
	}
	url, secret := job.Notify.WebhookURL, job.Notify.WebhookSecret

	go func() {
		if err := n.send(context.Background(), url, secret, payload); err != nil {
			n.logger.Warn("webhook delivery failed", "job_id", payload.JobID, "url", url, "error", err)
		}
	}()
}

func (n *Notifier) send(ctx context.Context, url, secret string, payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seekr-Event", "job."+string(payload.Status))
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, data))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
