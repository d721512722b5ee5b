package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"delivery-platform/internal/apperr"
)

const retryInitialDelay = 200 * time.Millisecond

// httpDoer is the shared plumbing for the collaborator service clients.
// GETs are retried with exponential backoff on network errors, 429 and 5xx;
// writes are sent once, since callers own their idempotency story.
type httpDoer struct {
	base    string
	client  *http.Client
	retries int
}

func newHTTPDoer(baseURL string, timeout time.Duration, retries int) httpDoer {
	if retries < 1 {
		retries = 1
	}
	return httpDoer{
		base:    baseURL,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
	}
}

func (d *httpDoer) getJSON(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < d.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * retryInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		done, err := d.handleResponse(req, path, out)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (d *httpDoer) postJSON(ctx context.Context, path string, in, out interface{}) error {
	return d.writeJSON(ctx, http.MethodPost, path, in, out)
}

func (d *httpDoer) putJSON(ctx context.Context, path string, in, out interface{}) error {
	return d.writeJSON(ctx, http.MethodPut, path, in, out)
}

func (d *httpDoer) writeJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = d.handleResponse(req, path, out)
	return err
}

// handleResponse executes the request and classifies the outcome. done=false
// means the caller may retry; done=true means the error (or nil) is final.
func (d *httpDoer) handleResponse(req *http.Request, path string, out interface{}) (done bool, err error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return false, apperr.Upstream(err, "%s %s failed", req.Method, path)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false, apperr.Upstream(err, "%s %s: reading response failed", req.Method, path)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(respBody) == 0 {
			return true, nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return true, apperr.Upstream(err, "%s %s: decoding response failed", req.Method, path)
		}
		return true, nil

	case resp.StatusCode == http.StatusNotFound:
		return true, apperr.NotFound("%s %s returned 404", req.Method, path)

	case resp.StatusCode == http.StatusConflict:
		return true, apperr.Conflict("%s %s returned 409: %s", req.Method, path, truncate(respBody))

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, apperr.Upstream(nil, "%s %s returned %d: %s", req.Method, path, resp.StatusCode, truncate(respBody))

	default:
		return true, apperr.Upstream(nil, "%s %s returned %d: %s", req.Method, path, resp.StatusCode, truncate(respBody))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
