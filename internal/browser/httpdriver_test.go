package browser

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/executor/web"
)

func TestDriver_NewSession(t *testing.T) {
	driver := New(0)

	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 800, Height: 600})
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestSession_NavigateCapturesStatusAndTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><head><title>Checkout</title></head><body id="app">hi</body></html>`))
	}))
	defer srv.Close()

	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)

	result, err := sess.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Checkout", result.Title)
}

func TestSession_NavigatePropagatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)

	result, err := sess.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Empty(t, result.Title)
}

func TestSession_NavigateRejectsBadURL(t *testing.T) {
	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)

	_, err = sess.Navigate(context.Background(), "http://127.0.0.1:0")
	assert.Error(t, err)
}

func TestSession_ScreenshotDecodesAtViewportSize(t *testing.T) {
	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 320, Height: 240})
	require.NoError(t, err)

	data, err := sess.Screenshot(context.Background())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestSession_ScreenshotFallsBackOnZeroViewport(t *testing.T) {
	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{})
	require.NoError(t, err)

	data, err := sess.Screenshot(context.Background())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1366, img.Bounds().Dx())
	assert.Equal(t, 900, img.Bounds().Dy())
}

func TestSession_CountMatchesBeforeNavigateIsZero(t *testing.T) {
	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)

	count, err := sess.CountMatches(context.Background(), "#app")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSession_CountMatchesAfterNavigate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div id="app"></div><div class="app">dup</div>`))
	}))
	defer srv.Close()

	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)

	_, err = sess.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	count, err := sess.CountMatches(context.Background(), "#app")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSession_Close(t *testing.T) {
	driver := New(0)
	sess, err := driver.NewSession(context.Background(), web.Viewport{Width: 1366, Height: 900})
	require.NoError(t, err)
	assert.NoError(t, sess.Close())
}

func TestExtractTitle_NoTitleTag(t *testing.T) {
	assert.Empty(t, extractTitle([]byte(`<html><body>no title here</body></html>`)))
}

func TestExtractTitle_MalformedMarkup(t *testing.T) {
	assert.Empty(t, extractTitle([]byte(`not html at all`)))
}
