package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

const analyzePath = "/analyze/email"

// HTTPAnalyzer calls a standalone analysis service over JSON/HTTP and
// retries with backoff when the service answers 429.
type HTTPAnalyzer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int

	// maxBackoff caps the wait between retries.
	maxBackoff time.Duration
}

// NewHTTPAnalyzer creates an analyzer for the service at baseURL. apiKey
// is sent as a Bearer token when non-empty.
func NewHTTPAnalyzer(baseURL, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
		maxBackoff: 30 * time.Second,
	}
}

type analyzeRequest struct {
	EmailID string `json:"email_id"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

// Analyze posts the message to {baseURL}/analyze/email.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, req Request) (*model.Enrichment, error) {
	var res result
	err := a.post(ctx, analyzePath, analyzeRequest{
		EmailID: req.MessageID,
		Subject: req.Subject,
		Content: req.Body,
		Sender:  req.Sender,
	}, &res)
	if err != nil {
		return nil, &AnalysisError{Provider: "http", Err: err}
	}

	e, err := res.toEnrichment()
	if err != nil {
		return nil, &AnalysisError{Provider: "http", Err: err}
	}
	return e, nil
}

// post builds the request, handles rate limiting with exponential
// backoff, and decodes the JSON response into result.
func (a *HTTPAnalyzer) post(ctx context.Context, path string, body, result interface{}) error {
	url := a.baseURL + path

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request POST %s: %w", path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on POST %s", path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status %d on POST %s: %s",
				resp.StatusCode, path, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from POST %s: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", a.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func (a *HTTPAnalyzer) retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return min(time.Duration(seconds)*time.Second, a.maxBackoff)
		}
	}

	// 1s, 2s, 4s, ...
	return min(time.Duration(1<<uint(attempt))*time.Second, a.maxBackoff)
}
