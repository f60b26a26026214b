// Package provider implements the external OCR provider protocol: batched
// upload-slot allocation, presigned byte transfer, status polling, and
// result-archive download.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"piaoju/internal/port"
)

// HTTPOptions configures the HTTP provider client.
type HTTPOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RetryBase is the backoff unit for the first retry. Each further
	// attempt doubles it, capped at 30s.
	RetryBase time.Duration
	RateLimit rate.Limit
	RateBurst int
}

// HTTPClient talks to the provider over HTTP with bounded retries,
// exponential backoff with jitter, and a request rate limiter. The retry
// budget is per operation, so one flaky document cannot exhaust the
// allowance of its siblings.
type HTTPClient struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPClient creates a provider client with sane defaults filled in.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase == 0 {
		opts.RetryBase = time.Second
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 10
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
	}
}

// RequestUploadSlots allocates one upload slot per document in a single
// batched call. The provider treats the batch as its unit of work, so this
// must never be split into per-document requests.
func (c *HTTPClient) RequestUploadSlots(ctx context.Context, files []port.SlotRequest) (*port.SlotAllocation, error) {
	body, err := json.Marshal(map[string]any{"files": files})
	if err != nil {
		return nil, fmt.Errorf("encoding slot request: %w", err)
	}

	data, err := c.doWithRetry(ctx, http.MethodPost, c.opts.BaseURL+"/v1/batches", body, "application/json")
	if err != nil {
		return nil, fmt.Errorf("requesting upload slots: %w", err)
	}

	var alloc port.SlotAllocation
	if err := json.Unmarshal(data, &alloc); err != nil {
		return nil, fmt.Errorf("decoding slot allocation: %w", err)
	}
	if alloc.BatchID == "" {
		return nil, fmt.Errorf("provider returned no batch id")
	}
	if len(alloc.Slots) != len(files) {
		return nil, fmt.Errorf("provider returned %d slots for %d files", len(alloc.Slots), len(files))
	}
	return &alloc, nil
}

// UploadDocument transfers one document's bytes to its presigned slot.
func (c *HTTPClient) UploadDocument(ctx context.Context, slot port.UploadSlot, payload []byte, contentType string) error {
	_, err := c.doWithRetry(ctx, http.MethodPut, slot.UploadURL, payload, contentType)
	if err != nil {
		return fmt.Errorf("uploading to slot %s: %w", slot.DocumentID, err)
	}
	return nil
}

// PollBatch fetches the per-document states for a batch.
func (c *HTTPClient) PollBatch(ctx context.Context, batchID string) (*port.BatchStatus, error) {
	data, err := c.doWithRetry(ctx, http.MethodGet, c.opts.BaseURL+"/v1/batches/"+batchID, nil, "")
	if err != nil {
		return nil, fmt.Errorf("polling batch %s: %w", batchID, err)
	}

	var status port.BatchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decoding batch status: %w", err)
	}
	return &status, nil
}

// DownloadArchive fetches the result bundle.
func (c *HTTPClient) DownloadArchive(ctx context.Context, archiveURL string) ([]byte, error) {
	data, err := c.doWithRetry(ctx, http.MethodGet, archiveURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("downloading result archive: %w", err)
	}
	return data, nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("provider request failed, retrying",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("reading response body: %w", readErr)
			}
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
			zap.L().Warn("provider transient error, retrying",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
		default:
			return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(data, 200))
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

func (c *HTTPClient) backoff(ctx context.Context, attempt int) {
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(c.opts.RetryBase) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
