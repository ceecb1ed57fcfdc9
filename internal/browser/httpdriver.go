// Package browser provides the production-default web.BrowserDriver: a
// plain net/http page fetcher with no JavaScript execution. It exists so
// cmd/taas-worker links a concrete driver without pulling in a headless
// browser; a real driver (chromedp, go-rod) can be swapped in later without
// touching internal/executor/web, which only depends on the BrowserDriver
// interface.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ratemate/taas/internal/executor/web"
)

const defaultTimeout = 10 * time.Second

// Driver is a web.BrowserDriver backed by plain HTTP GETs. It captures no
// real screenshot — Screenshot returns a solid-color placeholder PNG sized
// to the requested viewport, sufficient to exercise the visual diff
// pipeline end to end without a rendering engine.
type Driver struct {
	client *http.Client
}

// New returns a Driver with the given per-request timeout. A zero timeout
// falls back to defaultTimeout.
func New(timeout time.Duration) *Driver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Driver{client: &http.Client{Timeout: timeout}}
}

// NewSession opens a session against viewport. Sessions are stateless (one
// HTTP GET per Navigate), so a Driver session carries nothing but the
// viewport size used to size placeholder screenshots.
func (d *Driver) NewSession(_ context.Context, viewport web.Viewport) (web.BrowserSession, error) {
	return &session{client: d.client, viewport: viewport}, nil
}

type session struct {
	client   *http.Client
	viewport web.Viewport
	body     []byte
}

// Navigate fetches target and records its body for later title/selector
// inspection.
func (s *session) Navigate(ctx context.Context, target string) (web.NavigationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return web.NavigationResult{}, fmt.Errorf("browser: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return web.NavigationResult{}, fmt.Errorf("browser: navigate %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return web.NavigationResult{}, fmt.Errorf("browser: read %s: %w", target, err)
	}

	s.body = body

	return web.NavigationResult{StatusCode: resp.StatusCode, Title: extractTitle(body)}, nil
}

// Screenshot returns a solid-color PNG at the session's viewport size. It
// never fails to decode, which keeps the visual-diff pipeline exercised
// even without a rendering engine; real mismatches still show up once a
// driver that renders pixels is substituted in.
func (s *session) Screenshot(_ context.Context) ([]byte, error) {
	width, height := s.viewport.Width, s.viewport.Height
	if width <= 0 {
		width = 1366
	}

	if height <= 0 {
		height = 900
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("browser: encode screenshot: %w", err)
	}

	return buf.Bytes(), nil
}

// CountMatches does a crude substring count of selector (interpreted as a
// literal id or class name) against the last-navigated page's markup,
// since this driver does no DOM/CSS selector evaluation.
func (s *session) CountMatches(_ context.Context, selector string) (int, error) {
	if len(s.body) == 0 {
		return 0, nil
	}

	needle := strings.TrimPrefix(strings.TrimPrefix(selector, "#"), ".")

	return strings.Count(string(s.body), needle), nil
}

// Close is a no-op: sessions hold no resources beyond the shared client.
func (s *session) Close() error { return nil }

func extractTitle(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))

	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "title" {
				inTitle = false
			}
		}
	}
}
