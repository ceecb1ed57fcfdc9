// Package notifier posts a completion summary to a configured webhook
// (Slack-compatible {"text": "..."} payload) when a test session finishes.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Summary is the subset of a completed run's result a notification reports.
type Summary struct {
	SessionID        string
	TestType         string
	Status           string
	PerformanceScore *float64
	SecurityHigh     *int
	SecurityMedium   *int
	SecurityLow      *int
	ArtifactURLs     map[string]string
}

// Notifier posts Summary payloads to a webhook URL.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// New returns a Notifier posting to webhookURL. An empty webhookURL makes
// Notify a no-op, so notifications are opt-in per deployment.
func New(webhookURL string, timeout time.Duration) *Notifier {
	return &Notifier{webhookURL: webhookURL, httpClient: &http.Client{Timeout: timeout}}
}

// Notify posts s to the configured webhook. It is a no-op if no webhook is configured.
func (n *Notifier) Notify(ctx context.Context, s Summary) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": render(s)})
	if err != nil {
		return fmt.Errorf("notifier: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notifier: webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func render(s Summary) string {
	lines := []string{
		fmt.Sprintf("TaaS %s %s", strings.ToUpper(s.TestType), strings.ToUpper(s.Status)),
		fmt.Sprintf("session: %s", s.SessionID),
	}

	if s.PerformanceScore != nil {
		lines = append(lines, fmt.Sprintf("perf: %.0f", *s.PerformanceScore))
	}

	if s.SecurityHigh != nil {
		lines = append(lines, fmt.Sprintf("zap: H%d/M%d/L%d", *s.SecurityHigh, valOr(s.SecurityMedium), valOr(s.SecurityLow)))
	}

	const maxArtifactURLs = 4

	shown := 0

	for name, url := range s.ArtifactURLs {
		if shown == maxArtifactURLs {
			break
		}

		lines = append(lines, fmt.Sprintf("%s: %s", name, url))
		shown++
	}

	return strings.Join(lines, "\n")
}

func valOr(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
