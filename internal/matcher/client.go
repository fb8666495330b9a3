package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cadence-diary-server/internal/domain"
)

// Outcome is a completed comparison: the service was reached and produced a
// similarity score. A low score is a legitimate negative result, not an error.
type Outcome struct {
	Score int
}

// TransportError means the matcher could not be reached or answered with an
// unexpected shape. Callers must treat it as neither success nor failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("matcher %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client compares two opaque typing patterns and returns a 0-100 similarity
// score. The patterns are never inspected locally.
type Client interface {
	Match(ctx context.Context, sample, reference domain.TypingPattern, quality int) (*Outcome, error)
}

type httpClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

// NewClient returns a matcher client for the scoring service at baseURL,
// authenticating with the given API credentials.
func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration) Client {
	return &httpClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: timeout},
	}
}

type matchRequest struct {
	Pattern1 domain.TypingPattern `json:"pattern1"`
	Pattern2 domain.TypingPattern `json:"pattern2"`
	Quality  int                  `json:"quality"`
}

type matchResponse struct {
	Status int `json:"status"`
	Score  int `json:"score"`
}

func (c *httpClient) Match(ctx context.Context, sample, reference domain.TypingPattern, quality int) (*Outcome, error) {
	body, err := json.Marshal(matchRequest{
		Pattern1: sample,
		Pattern2: reference,
		Quality:  quality,
	})
	if err != nil {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/match", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("decoding response: %w", err)}
	}

	if result.Status != 0 && result.Status != http.StatusOK {
		return nil, &TransportError{Op: "match", Err: fmt.Errorf("service status %d", result.Status)}
	}

	return &Outcome{Score: result.Score}, nil
}
