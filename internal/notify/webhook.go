package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/sovereign/internal/idgen"
)

// Webhook headers.
const (
	HeaderEvent     = "X-Sovereign-Event"
	HeaderTimestamp = "X-Sovereign-Timestamp"
	HeaderSignature = "X-Sovereign-Signature"
)

// WebhookChannel POSTs messages as JSON, signed with HMAC-SHA256 when a
// secret is configured.
type WebhookChannel struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookChannel creates a webhook provider.
func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookChannel) Name() string { return ProviderWebhook }

type webhookPayload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	*Message
}

func (w *WebhookChannel) Send(ctx context.Context, msg *Message) (*Delivery, error) {
	p := webhookPayload{ID: idgen.WithPrefix("ntf_"), Timestamp: w.now().UTC(), Message: msg}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, "notification")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(p.Timestamp.Unix(), 10))
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: webhook status %d", ErrNotDelivered, resp.StatusCode)
	}
	return &Delivery{Sent: true, Provider: ProviderWebhook, MessageID: p.ID}, nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
