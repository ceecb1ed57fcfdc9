package web

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultMaxPages  = 6
	crawlHTTPTimeout = 10 * time.Second
)

var staticExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "svg": true,
	"webp": true, "css": true, "js": true, "ico": true, "pdf": true, "zip": true,
}

// loginLikeKeywords score candidate paths so auto-discovery visits the
// highest-value pages first (login, account and store/product flows catch
// more regressions than static marketing pages).
var loginLikeKeywords = []string{"login", "signin", "store", "home", "product", "account"}

// normalizeURL drops the fragment so two URLs that differ only by #anchor
// are treated as the same page.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

func sameHost(a, b string) bool {
	pa, errA := url.Parse(a)
	pb, errB := url.Parse(b)

	if errA != nil || errB != nil {
		return false
	}

	return pa.Scheme == pb.Scheme && pa.Host == pb.Host
}

func isStaticAsset(path string) bool {
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]

	dot := strings.LastIndex(last, ".")
	if dot == -1 {
		return false
	}

	ext := strings.ToLower(last[dot+1:])

	return staticExtensions[ext]
}

// extractLinks returns every href found in body's anchor tags.
func extractLinks(body string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))

	var links []string

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return links
		}

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}

		for _, attr := range token.Attr {
			if attr.Key == "href" {
				links = append(links, attr.Val)
			}
		}
	}
}

// Crawl performs a same-host breadth-first walk starting at startURL, using
// httpClient to fetch pages, stopping once maxPages pages have been visited
// or the frontier is exhausted. Static assets and javascript: links are
// skipped; results are returned in crawl order, unscored.
func Crawl(ctx context.Context, httpClient *http.Client, startURL string, maxPages int) ([]string, error) {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: crawlHTTPTimeout}
	}

	base := normalizeURL(startURL)
	queue := []string{base}
	seen := map[string]bool{}

	var visited []string

	for len(queue) > 0 && len(visited) < maxPages {
		current := queue[0]
		queue = queue[1:]

		if seen[current] {
			continue
		}

		seen[current] = true

		body, ok := fetch(ctx, httpClient, current)
		if !ok {
			continue
		}

		visited = append(visited, current)

		for _, href := range extractLinks(body) {
			if strings.HasPrefix(href, "javascript:") {
				continue
			}

			resolved, err := resolveAgainst(current, href)
			if err != nil {
				continue
			}

			resolved = normalizeURL(resolved)
			if !sameHost(base, resolved) {
				continue
			}

			u, err := url.Parse(resolved)
			if err != nil || isStaticAsset(u.Path) {
				continue
			}

			if !seen[resolved] {
				queue = append(queue, resolved)
			}
		}
	}

	return visited, nil
}

func resolveAgainst(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	return baseURL.ResolveReference(refURL).String(), nil
}

func fetch(ctx context.Context, client *http.Client, target string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false
	}

	req.Header.Set("User-Agent", "TaaSCrawler/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}

	return string(data), true
}

// ScoreByPriority sorts discovered URLs so paths containing any of
// loginLikeKeywords are visited first, mirroring the original crawler's heuristic.
func ScoreByPriority(urls []string) []string {
	sorted := make([]string, len(urls))
	copy(sorted, urls)

	sort.SliceStable(sorted, func(i, j int) bool {
		return score(sorted[i]) < score(sorted[j])
	})

	return sorted
}

func score(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}

	path := strings.ToLower(u.Path)

	s := 0

	for _, kw := range loginLikeKeywords {
		if strings.Contains(path, kw) {
			s -= 10
		}
	}

	return s
}
