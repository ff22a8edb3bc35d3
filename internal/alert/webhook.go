package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/pactwatch/internal/events"
)

// Headers set on every delivery. The delivery id stays the same across
// retries of one event so receivers can drop repeats.
const (
	EventHeader     = "X-Pactwatch-Event"
	DeliveryHeader  = "X-Pactwatch-Delivery"
	AgreementHeader = "X-Pactwatch-Agreement"
)

const (
	deliveryTimeout = 5 * time.Second
	maxAttempts     = 3
	maxRetryAfter   = 30 * time.Second
)

var (
	httpClient = &http.Client{Timeout: deliveryTimeout}
	retryDelay = time.Second
)

// Deliver posts event to sub. 5xx and 429 responses are retried with a
// linear backoff, or after Retry-After when the receiver sends one; other
// 4xx responses fail at once.
func Deliver(ctx context.Context, sub Subscription, event events.Event) error {
	body, err := FormatPayload(sub.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	delivery := uuid.NewString()

	var lastErr error
	wait := time.Duration(0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("delivery %s abandoned: %w", delivery, ctx.Err())
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EventHeader, string(event.Type))
		req.Header.Set(DeliveryHeader, delivery)
		if event.Agreement != "" {
			req.Header.Set(AgreementHeader, event.Agreement)
		}
		for k, v := range sub.Headers {
			req.Header.Set(k, v)
		}

		wait = time.Duration(attempt) * retryDelay
		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = d
			}
			lastErr = fmt.Errorf("webhook throttled: HTTP %d", resp.StatusCode)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		default:
			lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
		}
	}

	return fmt.Errorf("delivery %s failed after %d attempts: %w", delivery, maxAttempts, lastErr)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(v string) (time.Duration, bool) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	d := time.Duration(n) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}
