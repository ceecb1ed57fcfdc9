package mobsf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_UploadScanReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/v1/upload":
			_, _ = w.Write([]byte(`{"hash":"abc123","scan_type":"apk"}`))
		case "/api/v1/scan":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/api/v1/report_json":
			_, _ = w.Write([]byte(`{"risk_score": 4.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 10*time.Second)
	ctx := context.Background()

	upload, err := client.Upload(ctx, "app.apk", []byte("fake-apk-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", upload.Hash)

	require.NoError(t, client.Scan(ctx, upload.Hash, upload.ScanType))

	report, err := client.ReportJSON(ctx, upload.Hash)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, report.RiskScore, 0.001)
}

func TestClient_Scan_FallsBackToTypedPath(t *testing.T) {
	calledTypedPath := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/scan":
			w.WriteHeader(http.StatusBadRequest)
		case "/api/v1/scan/apk":
			calledTypedPath = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 10*time.Second)
	require.NoError(t, client.Scan(context.Background(), "abc123", "apk"))
	assert.True(t, calledTypedPath)
}
