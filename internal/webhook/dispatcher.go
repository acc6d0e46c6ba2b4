// Package webhook fires outgoing, HMAC-signed HTTP notifications to a
// single configured endpoint whenever dialog activity occurs. Adapted
// from the fire-and-forget goroutine idiom the teacher uses for audit
// logging: dispatch never blocks the request path that triggered it.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Webhook-Signature"
	requestTimeout  = 5 * time.Second
	maxAttempts     = 3
)

var retryBackoff = []time.Duration{1 * time.Second, 5 * time.Second}

// Payload is the envelope sent for every event.
type Payload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Dispatcher sends signed webhook requests to one configured URL.
type Dispatcher struct {
	url        string
	secret     []byte
	httpClient *http.Client
	logger     *zap.Logger
}

func New(url, secret string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		url:        url,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// Dispatch builds and signs a payload for eventType and fires it on
// its own goroutine. A zero-value url (webhooks disabled) is a no-op.
func (d *Dispatcher) Dispatch(eventType string, data interface{}) {
	if d.url == "" {
		return
	}
	payload := Payload{Event: eventType, Data: data, Timestamp: time.Now().Unix()}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("marshal webhook payload", zap.String("event", eventType), zap.Error(err))
		return
	}

	go d.send(eventType, body)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) send(eventType string, body []byte) {
	signature := d.sign(body)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			d.logger.Error("build webhook request", zap.String("event", eventType), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(signatureHeader, signature)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.logger.Warn("webhook delivery attempt failed",
				zap.String("event", eventType), zap.Int("attempt", attempt), zap.Error(err))
			d.sleepBeforeRetry(attempt)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 500 {
			if resp.StatusCode >= 400 {
				d.logger.Warn("webhook rejected, not retrying",
					zap.String("event", eventType), zap.Int("status", resp.StatusCode))
			}
			return
		}

		d.logger.Warn("webhook delivery got server error",
			zap.String("event", eventType), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
		d.sleepBeforeRetry(attempt)
	}
	d.logger.Error("webhook delivery exhausted retries", zap.String("event", eventType))
}

func (d *Dispatcher) sleepBeforeRetry(attempt int) {
	if attempt-1 < len(retryBackoff) {
		time.Sleep(retryBackoff[attempt-1])
	}
}
