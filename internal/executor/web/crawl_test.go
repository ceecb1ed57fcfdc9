package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawl_FollowsSameHostLinks(t *testing.T) {
	var mux http.ServeMux

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/login">Login</a><a href="/style.css">css</a></body></html>`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>login page</body></html>`))
	})

	srv := httptest.NewServer(&mux)
	defer srv.Close()

	pages, err := Crawl(context.Background(), srv.Client(), srv.URL+"/", 6)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Contains(t, pages[1], "/login")
}

func TestCrawl_SkipsExternalHosts(t *testing.T) {
	var mux http.ServeMux

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="https://external.example.com/page">ext</a></body></html>`))
	})

	srv := httptest.NewServer(&mux)
	defer srv.Close()

	pages, err := Crawl(context.Background(), srv.Client(), srv.URL+"/", 6)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestCrawl_RespectsMaxPages(t *testing.T) {
	var mux http.ServeMux

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></body></html>`))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("a")) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("b")) })
	mux.HandleFunc("/c", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("c")) })

	srv := httptest.NewServer(&mux)
	defer srv.Close()

	pages, err := Crawl(context.Background(), srv.Client(), srv.URL+"/", 2)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestScoreByPriority_PrefersLoginLikePaths(t *testing.T) {
	urls := []string{"http://x/about", "http://x/login", "http://x/contact"}

	sorted := ScoreByPriority(urls)
	assert.Equal(t, "http://x/login", sorted[0])
}

func TestIsStaticAsset(t *testing.T) {
	assert.True(t, isStaticAsset("/assets/logo.png"))
	assert.False(t, isStaticAsset("/login"))
}
