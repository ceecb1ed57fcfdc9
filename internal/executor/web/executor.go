// Package web implements the web test executor: page checks, visual
// regression against a stored baseline, and optional performance/security
// sidecar scans. Browser automation is abstracted behind BrowserDriver,
// since driving a real browser (Playwright) is out of scope here; a
// deterministic fake backs tests and can be swapped for a real
// implementation without touching orchestration logic.
package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// defaultViewport matches the fixed 1366x900 capture size the baseline key
// scheme encodes.
var defaultViewport = Viewport{Width: 1366, Height: 900}

// Viewport is the browser window size a session is opened with.
type Viewport struct {
	Width  int
	Height int
}

// NavigationResult is what a page load reports back.
type NavigationResult struct {
	StatusCode int
	Title      string
}

// PageResult is one page's outcome within a session.
type PageResult struct {
	URL              string
	Passed           bool
	StatusCode       int
	Title            string
	Screenshot       []byte
	Error            string
	MissingSelectors []string
	VisualMismatch   *float64
	VisualDiff       []byte
}

// BrowserDriver opens sessions against pages. A real implementation would
// wrap a headless browser; Executor only depends on this interface.
type BrowserDriver interface {
	NewSession(ctx context.Context, viewport Viewport) (BrowserSession, error)
}

// BrowserSession is one page load's lifecycle: navigate, inspect, capture, close.
type BrowserSession interface {
	Navigate(ctx context.Context, targetURL string) (NavigationResult, error)
	Screenshot(ctx context.Context) ([]byte, error)
	CountMatches(ctx context.Context, selector string) (int, error)
	Close() error
}

// BaselineStore resolves and stores visual regression baselines, backed in
// production by objectstore.Store.
type BaselineStore interface {
	GetBaseline(ctx context.Context, key string) ([]byte, bool, error)
	PutBaseline(ctx context.Context, key string, data []byte) error
}

// CancelChecker reports whether a session has an outstanding cancellation request.
type CancelChecker interface {
	IsCancelRequested(ctx context.Context, sessionID string) (bool, error)
}

// VisualComparer computes a per-pixel diff, matching internal/visual's signature.
type VisualComparer func(baseline, candidate []byte) (mismatchPct float64, diffImage []byte, err error)

// Request describes one web test invocation.
type Request struct {
	SessionID    string
	Project      string
	Kind         string // "auto" crawls from URL; otherwise URLs is used as-is
	URL          string
	URLs         []string
	AutoBaseline bool
	// Selectors maps a target URL to the CSS selectors site config requires
	// present on that page; a selector with zero matches fails the page.
	Selectors map[string][]string
}

// Executor runs web test sessions.
type Executor struct {
	driver     BrowserDriver
	baselines  BaselineStore
	cancel     CancelChecker
	compare    VisualComparer
	httpClient *http.Client
}

// New returns an Executor wired to its collaborators.
func New(driver BrowserDriver, baselines BaselineStore, cancel CancelChecker, compare VisualComparer) *Executor {
	return &Executor{
		driver:     driver,
		baselines:  baselines,
		cancel:     cancel,
		compare:    compare,
		httpClient: &http.Client{Timeout: crawlHTTPTimeout},
	}
}

// Run executes req, visiting each target URL (crawling first if req.Kind is
// "auto"), returning one PageResult per page visited. It checks the
// cancellation flag before every page so a mid-session cancellation takes
// effect quickly without aborting work already durably recorded.
func (e *Executor) Run(ctx context.Context, req Request) ([]PageResult, error) {
	targets, err := e.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]PageResult, 0, len(targets))

	for _, target := range targets {
		if e.cancel != nil {
			canceled, err := e.cancel.IsCancelRequested(ctx, req.SessionID)
			if err != nil {
				return results, fmt.Errorf("web executor: check cancellation: %w", err)
			}

			if canceled {
				return results, ErrCanceled
			}
		}

		results = append(results, e.visit(ctx, req, target))
	}

	return results, nil
}

// ErrCanceled signals that Run stopped partway through due to an
// out-of-band cancellation request.
var ErrCanceled = fmt.Errorf("web executor: session canceled")

func (e *Executor) resolveTargets(ctx context.Context, req Request) ([]string, error) {
	if len(req.URLs) > 0 {
		return req.URLs, nil
	}

	if req.Kind != "auto" || req.URL == "" {
		return []string{req.URL}, nil
	}

	discovered, err := Crawl(ctx, e.httpClient, req.URL, defaultMaxPages)
	if err != nil {
		return nil, fmt.Errorf("web executor: crawl: %w", err)
	}

	if len(discovered) == 0 {
		return []string{req.URL}, nil
	}

	return ScoreByPriority(discovered), nil
}

func (e *Executor) visit(ctx context.Context, req Request, target string) PageResult {
	result := PageResult{URL: target}

	session, err := e.driver.NewSession(ctx, defaultViewport)
	if err != nil {
		result.Error = err.Error()

		return result
	}
	defer session.Close()

	nav, err := session.Navigate(ctx, target)
	if err != nil {
		result.Error = err.Error()

		return result
	}

	result.StatusCode = nav.StatusCode
	result.Title = nav.Title
	result.Passed = result.StatusCode >= http.StatusOK && result.StatusCode < http.StatusBadRequest

	screenshot, err := session.Screenshot(ctx)
	if err != nil {
		result.Error = err.Error()

		return result
	}

	result.Screenshot = screenshot

	if selectors := req.Selectors[target]; len(selectors) > 0 {
		result.MissingSelectors = checkSelectors(ctx, session, selectors)
		result.Passed = result.Passed && len(result.MissingSelectors) == 0
	}

	if e.baselines != nil && e.compare != nil {
		e.applyVisualRegression(ctx, req, target, &result)
	}

	return result
}

func checkSelectors(ctx context.Context, session BrowserSession, selectors []string) []string {
	var missing []string

	for _, sel := range selectors {
		n, err := session.CountMatches(ctx, sel)
		if err != nil || n == 0 {
			missing = append(missing, sel)
		}
	}

	return missing
}

func (e *Executor) applyVisualRegression(ctx context.Context, req Request, target string, result *PageResult) {
	key := BaselineKey(req.Project, target)

	baseline, ok, err := e.baselines.GetBaseline(ctx, key)
	if err != nil || !ok {
		if req.AutoBaseline && len(result.Screenshot) > 0 {
			_ = e.baselines.PutBaseline(ctx, key, result.Screenshot)
		}

		return
	}

	mismatchPct, diffImage, err := e.compare(baseline, result.Screenshot)
	if err != nil {
		return
	}

	result.VisualMismatch = &mismatchPct
	result.VisualDiff = diffImage
}

// BaselineKey returns the object-store key a target URL's visual baseline
// is stored and promoted under: baselines/{project}/{slug}_{WxH}.png, where
// slug is the URL path with leading and trailing "/" trimmed and the
// remaining "/" replaced by "_" (empty path -> "root").
func BaselineKey(project, target string) string {
	u, err := url.Parse(target)
	path := "root"

	if err == nil {
		path = strings.Trim(u.Path, "/")
		if path == "" {
			path = "root"
		}

		path = strings.ReplaceAll(path, "/", "_")
	}

	if project == "" {
		project = "default"
	}

	return fmt.Sprintf("baselines/%s/%s_1366x900.png", project, path)
}
