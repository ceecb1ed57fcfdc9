package browser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/objectstore"
)

// fakeS3 is a minimal path-style S3 stand-in shared with objectstore's own
// tests, reproduced here since it's package-private there.
func fakeS3(t *testing.T) *httptest.Server {
	t.Helper()

	objects := map[string][]byte{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/test-bucket/")

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, ok := objects[key]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>no such key</Message></Error>`))

				return
			}

			_, _ = w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func newTestStore(t *testing.T) *objectstore.Store {
	t.Helper()

	srv := fakeS3(t)
	t.Cleanup(srv.Close)

	store, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:     srv.URL,
		Region:       "us-east-1",
		Bucket:       "test-bucket",
		AccessKeyID:  "test",
		SecretKey:    "test",
		UsePathStyle: true,
	}, 0)
	require.NoError(t, err)

	return store
}

func TestObjectStoreBaselines_GetBaselineMissing(t *testing.T) {
	baselines := ObjectStoreBaselines{Objects: newTestStore(t)}

	data, ok, err := baselines.GetBaseline(context.Background(), "baselines/checkout/root_1366x900.png")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestObjectStoreBaselines_PutThenGet(t *testing.T) {
	baselines := ObjectStoreBaselines{Objects: newTestStore(t)}
	key := "baselines/checkout/root_1366x900.png"

	require.NoError(t, baselines.PutBaseline(context.Background(), key, []byte("baseline-bytes")))

	data, ok, err := baselines.GetBaseline(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "baseline-bytes", string(data))
}

func TestCompareImages_IdenticalReportsNoMismatch(t *testing.T) {
	img := solidPNG(t, 10, 10, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	pct, diffImg, err := CompareImages(img, img)
	require.NoError(t, err)
	assert.InDelta(t, 0, pct, 0.001)
	assert.NotEmpty(t, diffImg)
}

func TestCompareImages_InvalidPNGReturnsError(t *testing.T) {
	_, _, err := CompareImages([]byte("not-a-png"), []byte("also-not-a-png"))
	assert.Error(t, err)
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}
