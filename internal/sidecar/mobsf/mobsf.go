// Package mobsf calls a Mobile Security Framework instance to statically
// analyze an uploaded APK/IPA.
package mobsf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// UploadResult is MobSF's response to /api/v1/upload.
type UploadResult struct {
	Hash     string `json:"hash"`
	ScanType string `json:"scan_type"`
}

// Report is the subset of MobSF's JSON report the mobile executor reads.
type Report struct {
	RiskScore   float64  `json:"risk_score"`
	Permissions []string `json:"-"`
	Endpoints   []string `json:"-"`
	Raw         json.RawMessage
}

// Client calls a MobSF instance's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a Client targeting a MobSF instance's base URL.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

// Upload submits fileName/data for analysis and returns its MobSF hash.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("mobsf: build upload: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("mobsf: write upload body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("mobsf: close upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("mobsf: build request: %w", err)
	}

	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mobsf: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("mobsf: upload status %d", resp.StatusCode)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("mobsf: decode upload response: %w", err)
	}

	return &result, nil
}

// Scan triggers static analysis for hash/scanType. MobSF versions differ on
// whether /api/v1/scan accepts scan_type in the form body or needs the
// type appended to the path, so Scan tries the form-body variant first and
// falls back to /api/v1/scan/{type} on failure, matching both API shapes.
func (c *Client) Scan(ctx context.Context, hash, scanType string) error {
	form := map[string]string{"hash": hash, "scan_type": scanType}

	if err := c.postForm(ctx, "/api/v1/scan", form); err != nil {
		return c.postForm(ctx, "/api/v1/scan/"+scanType, form)
	}

	return nil
}

// ReportJSON fetches the structured JSON report for hash.
func (c *Client) ReportJSON(ctx context.Context, hash string) (*Report, error) {
	resp, err := c.doForm(ctx, "/api/v1/report_json", map[string]string{"hash": hash})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mobsf: read report: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mobsf: decode report: %w", err)
	}

	return &Report{RiskScore: toFloat(raw["risk_score"]), Raw: data}, nil
}

// ReportHTML fetches MobSF's rendered HTML report for hash, when available.
func (c *Client) ReportHTML(ctx context.Context, hash string) (string, error) {
	resp, err := c.doForm(ctx, "/api/v1/report", map[string]string{"hash": hash})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("mobsf: report status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("mobsf: read report html: %w", err)
	}

	return string(data), nil
}

func (c *Client) postForm(ctx context.Context, path string, form map[string]string) error {
	resp, err := c.doForm(ctx, path, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("mobsf: %s status %d", path, resp.StatusCode)
	}

	return nil
}

func (c *Client) doForm(ctx context.Context, path string, form map[string]string) (*http.Response, error) {
	values := make(url.Values)
	for k, v := range form {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("mobsf: build request: %w", err)
	}

	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mobsf: request %s failed: %w", path, err)
	}

	return resp, nil
}

func toFloat(v any) float64 {
	f, _ := v.(float64)

	return f
}
