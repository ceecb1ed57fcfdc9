// Package zap calls an OWASP ZAP daemon's REST API to spider and passively
// scan a target URL for security findings.
package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Alert is one ZAP-reported finding.
type Alert struct {
	Risk     string `json:"risk"`
	Alert    string `json:"alert"`
	URL      string `json:"url"`
	Evidence string `json:"evidence"`
}

// Client talks to a ZAP daemon's proxy-style REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a Client targeting a ZAP daemon's base URL (e.g. http://zap:8090).
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("zap: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zap: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("zap: decode response: %w", err)
	}

	return out, nil
}

// StartSpider kicks off a traditional spider scan of target and returns its scan id.
func (c *Client) StartSpider(ctx context.Context, target string) (string, error) {
	out, err := c.get(ctx, "/JSON/spider/action/scan/", url.Values{"url": {target}})
	if err != nil {
		return "", err
	}

	scan, _ := out["scan"].(string)

	return scan, nil
}

// SpiderStatus reports the spider scan's completion percentage (0-100).
func (c *Client) SpiderStatus(ctx context.Context, scanID string) (int, error) {
	out, err := c.get(ctx, "/JSON/spider/view/status/", url.Values{"scanId": {scanID}})
	if err != nil {
		return 0, err
	}

	status, _ := out["status"].(string)

	return strconv.Atoi(status)
}

// AjaxSpiderScan starts ZAP's AJAX spider against target, for
// JavaScript-heavy pages a traditional spider can't crawl.
func (c *Client) AjaxSpiderScan(ctx context.Context, target string) error {
	_, err := c.get(ctx, "/JSON/ajaxSpider/action/scan/", url.Values{"url": {target}})

	return err
}

// AjaxSpiderStatus reports the AJAX spider's run state ("running" or "stopped").
func (c *Client) AjaxSpiderStatus(ctx context.Context) (string, error) {
	out, err := c.get(ctx, "/JSON/ajaxSpider/view/status/", url.Values{})
	if err != nil {
		return "", err
	}

	return str(out["status"]), nil
}

// Alerts returns the current alerts scoped to baseURL.
func (c *Client) Alerts(ctx context.Context, baseURL string) ([]Alert, error) {
	out, err := c.get(ctx, "/JSON/core/view/alerts/", url.Values{"baseurl": {baseURL}})
	if err != nil {
		return nil, err
	}

	raw, _ := out["alerts"].([]any)
	alerts := make([]Alert, 0, len(raw))

	for _, a := range raw {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}

		alerts = append(alerts, Alert{
			Risk:     str(m["risk"]),
			Alert:    str(m["alert"]),
			URL:      str(m["url"]),
			Evidence: str(m["evidence"]),
		})
	}

	return alerts, nil
}

// HTMLReport fetches ZAP's built-in HTML summary report.
func (c *Client) HTMLReport(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/OTHER/core/other/htmlreport/?apikey="+c.apiKey, nil)
	if err != nil {
		return "", fmt.Errorf("zap: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("zap: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("zap: read response: %w", err)
	}

	return string(data), nil
}

func str(v any) string {
	s, _ := v.(string)

	return s
}
