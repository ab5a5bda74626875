// Package gateway holds the JSON HTTP clients for the services the core calls
// out to: the access oracle and the side-effect executor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable wraps transport failures and 5xx responses. Callers treat it
// as "outcome unknown".
var ErrUnavailable = errors.New("gateway unavailable")

// ErrRejected wraps 4xx responses.
var ErrRejected = errors.New("gateway rejected request")

const maxErrorBody = 512

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration, hc *http.Client) client {
	if hc == nil {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		kind := ErrUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = ErrRejected
		}
		return fmt.Errorf("%w: POST %s returned %d: %s", kind, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, path, err)
	}
	return nil
}
