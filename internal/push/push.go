// Package push delivers task lifecycle events to configured webhooks,
// signing each envelope with HMAC-SHA256 so receivers can verify
// authenticity, and retrying transient failures with bounded backoff.
package push

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/telemetry"
)

// SignatureHeader is the HTTP header carrying the HMAC-SHA256 signature
// of the envelope body, hex-encoded.
const SignatureHeader = "X-AgentUp-Signature"

// Envelope is the JSON body delivered to a configured webhook.
type Envelope struct {
	TaskID    string           `json:"taskId"`
	ContextID string           `json:"contextId"`
	Status    types.TaskStatus `json:"status"`
	Timestamp string           `json:"timestamp"`
}

// Notifier delivers signed push notifications for task status changes.
type Notifier struct {
	client        *http.Client
	signingSecret string
	validateURLs  bool
	maxRetries    int
}

// New constructs a Notifier. signingSecret, if non-empty, is used to
// HMAC-sign every delivered envelope; validateURLs rejects configs whose
// URL fails ValidateURL before the first delivery attempt.
func New(signingSecret string, validateURLs bool, maxRetries int) *Notifier {
	return &Notifier{
		client:        &http.Client{Timeout: 10 * time.Second},
		signingSecret: signingSecret,
		validateURLs:  validateURLs,
		maxRetries:    maxRetries,
	}
}

// Deliver sends status as a signed envelope to every config in cfgs,
// retrying each delivery independently with bounded backoff. Delivery
// failures are logged, never surfaced to the caller: a webhook outage
// must not fail the task it is reporting on.
func (n *Notifier) Deliver(ctx context.Context, taskID, contextID string, status types.TaskStatus, cfgs []*types.PushNotificationConfig) {
	for _, cfg := range cfgs {
		cfg := cfg
		go n.deliverOne(ctx, taskID, contextID, status, cfg)
	}
}

func (n *Notifier) deliverOne(ctx context.Context, taskID, contextID string, status types.TaskStatus, cfg *types.PushNotificationConfig) {
	if n.validateURLs {
		if err := ValidateURL(cfg.URL); err != nil {
			telemetry.Error(ctx, "push notification URL rejected", err, telemetry.Fields{TaskID: taskID})
			return
		}
	}
	envelope := Envelope{TaskID: taskID, ContextID: contextID, Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	body, err := json.Marshal(envelope)
	if err != nil {
		telemetry.Error(ctx, "failed to marshal push envelope", err, telemetry.Fields{TaskID: taskID})
		return
	}

	cfgRetry := defaultRetryConfig(n.maxRetries)
	err = doWithRetry(ctx, cfgRetry, func(ctx context.Context) error {
		return n.send(ctx, cfg, body)
	})
	if err != nil {
		telemetry.Error(ctx, "push notification delivery failed", err, telemetry.Fields{TaskID: taskID})
	}
}

func (n *Notifier) send(ctx context.Context, cfg *types.PushNotificationConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if n.signingSecret != "" {
		req.Header.Set(SignatureHeader, sign(n.signingSecret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks that signature matches the HMAC-SHA256 of body under
// secret, for receivers that want to validate AgentUp-originated
// webhooks.
func Verify(secret string, body []byte, signature string) bool {
	expected := sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateURL reports whether a configured webhook URL is acceptable,
// used when validateURLs is enabled: it must be non-empty and start with
// "https://". The URL is not otherwise parsed, and its host is not
// checked against loopback or private address ranges.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("push: webhook URL must not be empty")
	}
	if len(rawURL) < 8 || rawURL[:8] != "https://" {
		return fmt.Errorf("push: webhook URL must use https://")
	}
	return nil
}
