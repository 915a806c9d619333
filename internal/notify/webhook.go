package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// maxResponseBody caps how much of a webhook reply is read.
const maxResponseBody = 64 << 10

// webhookClient posts JSON payloads to a single chat-bot webhook.
type webhookClient struct {
	url        string
	httpClient *http.Client
}

// postJSON sends payload and returns the response body. Non-2xx statuses
// are errors.
func (w webhookClient) postJSON(ctx context.Context, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// carriesMessage reports whether ev describes a single mail message, in
// which case the rich layouts are used.
func carriesMessage(ev model.NotificationEvent) bool {
	return ev.Metadata.MessageID != "" || ev.Metadata.Sender != ""
}

// messageLines returns the labelled message fields of ev in display order.
func messageLines(ev model.NotificationEvent) [][2]string {
	lines := [][2]string{
		{"From", ev.Metadata.Sender},
		{"Subject", ev.Metadata.Subject},
		{"Content", ev.Content},
	}
	if ev.Metadata.Summary != "" {
		lines = append(lines, [2]string{"Summary", ev.Metadata.Summary})
	}
	lines = append(lines, [2]string{"Time", formatTime(ev.Timestamp)})
	return lines
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func plainText(ev model.NotificationEvent) string {
	return ev.Title + "\n\n" + ev.Content
}
