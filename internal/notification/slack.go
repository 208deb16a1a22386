package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// SlackSender posts events to a Slack incoming webhook as a text summary.
type SlackSender struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackSender creates a Slack sender.
func NewSlackSender(logger *slog.Logger) *SlackSender {
	return &SlackSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (s *SlackSender) Kind() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, endpoint *Endpoint, msg *Message) error {
	if endpoint.URL == "" {
		return fmt.Errorf("slack endpoint %q has no URL", endpoint.Name)
	}
	if err := validateEndpointURL(endpoint.URL); err != nil {
		return fmt.Errorf("slack URL rejected: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"text": formatSlackText(msg)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func formatSlackText(msg *Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", msg.Event)
	keys := make([]string, 0, len(msg.Payload))
	for k := range msg.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %v", k, msg.Payload[k])
	}
	return b.String()
}
