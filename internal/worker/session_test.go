package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/executor/mobile"
	"github.com/ratemate/taas/internal/executor/web"
	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/policy"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/sidecar/lighthouse"
	"github.com/ratemate/taas/internal/sidecar/mobsf"
	"github.com/ratemate/taas/internal/sidecar/zap"
	"github.com/ratemate/taas/internal/storage"
)

// --- fakes satisfying worker dependencies ---

type fakeSessionStore struct {
	statuses map[string]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{statuses: map[string]string{}}
}

func (s *fakeSessionStore) UpsertSession(_ context.Context, id, _, _, _, status string, _ json.RawMessage) error {
	s.statuses[id] = status

	return nil
}

func (s *fakeSessionStore) UpdateSessionStatus(_ context.Context, id, status string) error {
	s.statuses[id] = status

	return nil
}

func (s *fakeSessionStore) GetSession(_ context.Context, id string) (*storage.Session, error) {
	return &storage.Session{ID: id, Status: s.statuses[id]}, nil
}

func (s *fakeSessionStore) ListSessions(_ context.Context, _ storage.SessionFilter) ([]*storage.Session, error) {
	return nil, nil
}

func (s *fakeSessionStore) ListProjects(_ context.Context) ([]*storage.ProjectCount, error) {
	return nil, nil
}

func (s *fakeSessionStore) HealthCheck(_ context.Context) error { return nil }

type fakeResultStore struct {
	appended []json.RawMessage
}

func (r *fakeResultStore) AppendResult(_ context.Context, sessionID string, summary json.RawMessage) (*storage.Result, error) {
	r.appended = append(r.appended, summary)

	return &storage.Result{ID: int64(len(r.appended)), SessionID: sessionID, Summary: summary}, nil
}

func (r *fakeResultStore) LatestResult(_ context.Context, _ string) (*storage.Result, error) {
	return nil, storage.ErrResultNotFound
}

func (r *fakeResultStore) ListResults(_ context.Context, _ string, _, _ int) ([]*storage.Result, error) {
	return nil, nil
}

func (r *fakeResultStore) GetResult(_ context.Context, _ int64) (*storage.Result, error) {
	return nil, storage.ErrResultNotFound
}

func (r *fakeResultStore) HealthCheck(_ context.Context) error { return nil }

type fakeWebSession struct {
	status int
	title  string
	shot   []byte
}

func (s *fakeWebSession) Navigate(_ context.Context, _ string) (web.NavigationResult, error) {
	return web.NavigationResult{StatusCode: s.status, Title: s.title}, nil
}

func (s *fakeWebSession) Screenshot(_ context.Context) ([]byte, error) { return s.shot, nil }

func (s *fakeWebSession) CountMatches(_ context.Context, _ string) (int, error) { return 1, nil }

func (s *fakeWebSession) Close() error { return nil }

type fakeWebDriver struct{}

func (d *fakeWebDriver) NewSession(_ context.Context, _ web.Viewport) (web.BrowserSession, error) {
	return &fakeWebSession{status: 200, title: "Checkout", shot: []byte("screenshot-bytes")}, nil
}

type fakeBaselineStore struct{}

func (b *fakeBaselineStore) GetBaseline(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (b *fakeBaselineStore) PutBaseline(_ context.Context, _ string, _ []byte) error { return nil }

type fakeCancelChecker struct {
	canceled bool
}

func (c *fakeCancelChecker) IsCancelRequested(_ context.Context, _ string) (bool, error) {
	return c.canceled, nil
}

type fakeMobSFClient struct{}

func (f *fakeMobSFClient) Upload(_ context.Context, _ string, _ []byte) (*mobsf.UploadResult, error) {
	return &mobsf.UploadResult{Hash: "hash1", ScanType: "apk"}, nil
}

func (f *fakeMobSFClient) Scan(_ context.Context, _, _ string) error { return nil }

func (f *fakeMobSFClient) ReportJSON(_ context.Context, _ string) (*mobsf.Report, error) {
	return &mobsf.Report{RiskScore: 2.5}, nil
}

func (f *fakeMobSFClient) ReportHTML(_ context.Context, _ string) (string, error) {
	return "<html>mobsf</html>", nil
}

func newFakeObjectStore(t *testing.T) *objectstore.Store {
	t.Helper()

	objects := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/test-bucket/")

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)

				return
			}

			_, _ = w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	store, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint: srv.URL, Region: "us-east-1", Bucket: "test-bucket",
		AccessKeyID: "test", SecretKey: "test", UsePathStyle: true,
	}, 0)
	require.NoError(t, err)

	return store
}

func TestSessionHandler_HandleWeb(t *testing.T) {
	sessions := newFakeSessionStore()
	results := &fakeResultStore{}

	handler := &SessionHandler{
		Web:      web.New(&fakeWebDriver{}, &fakeBaselineStore{}, &fakeCancelChecker{}, nil),
		Sessions: sessions,
		Results:  results,
		Objects:  newFakeObjectStore(t),
	}

	job := &queue.Job{
		SessionID: "s1", Project: "checkout", Kind: "web", TestType: "smoke",
		Payload: json.RawMessage(`{"url":"https://example.com/checkout"}`),
	}

	require.NoError(t, handler.Handle(context.Background(), job))

	assert.Equal(t, "completed", sessions.statuses["s1"])
	require.Len(t, results.appended, 1)

	var summary webSummary
	require.NoError(t, json.Unmarshal(results.appended[0], &summary))
	assert.Equal(t, "smoke", summary.TestType)
	assert.True(t, summary.Passed)
	require.Len(t, summary.Pages, 1)
	assert.True(t, summary.Pages[0].Passed)
	assert.Contains(t, summary.ArtifactURLs, "page-0-screenshot")
}

func TestSessionHandler_HandleWebWithLighthouseAndZAP(t *testing.T) {
	sessions := newFakeSessionStore()
	results := &fakeResultStore{}

	lhSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://example.com","performance_score":42,"metrics":{"lcp":5000,"cls":0.3,"tti":6000},"reportHtml":"<html>lh</html>"}`))
	}))
	defer lhSrv.Close()

	var zapMux http.ServeMux

	zapMux.HandleFunc("/JSON/spider/action/scan/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"scan":"0"}`))
	})
	zapMux.HandleFunc("/JSON/spider/view/status/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"100"}`))
	})
	zapMux.HandleFunc("/JSON/core/view/alerts/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"alerts":[{"risk":"High","alert":"SQLi","url":"https://example.com","evidence":"x"}]}`))
	})
	zapMux.HandleFunc("/OTHER/core/other/htmlreport/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>zap</html>"))
	})

	zapSrv := httptest.NewServer(&zapMux)
	defer zapSrv.Close()

	handler := &SessionHandler{
		Web:        web.New(&fakeWebDriver{}, &fakeBaselineStore{}, &fakeCancelChecker{}, nil),
		Lighthouse: lighthouse.New(lhSrv.URL, 0),
		ZAP:        zap.New(zapSrv.URL, "test-key", 0),
		Sessions:   sessions,
		Results:    results,
		Objects:    newFakeObjectStore(t),
		Thresholds: policy.Thresholds{PerfScoreMin: 80, ZAPAllowHigh: 0},
	}

	job := &queue.Job{
		SessionID: "s2", Project: "checkout", Kind: "web", TestType: "full",
		Payload: json.RawMessage(`{"url":"https://example.com/checkout","run_lighthouse":true,"run_zap":true}`),
	}

	require.NoError(t, handler.Handle(context.Background(), job))

	assert.Equal(t, "failed", sessions.statuses["s2"])

	var summary webSummary
	require.NoError(t, json.Unmarshal(results.appended[0], &summary))
	require.NotNil(t, summary.Performance)
	require.NotNil(t, summary.Security)
	assert.Equal(t, 1, summary.Security.High)
	assert.False(t, summary.Passed)
	assert.False(t, summary.Policy.SecurityOK)
	assert.Contains(t, summary.ArtifactURLs, "lighthouse-report")
	assert.Contains(t, summary.ArtifactURLs, "zap-report")
}

func TestSessionHandler_HandleMobile(t *testing.T) {
	sessions := newFakeSessionStore()
	results := &fakeResultStore{}
	objects := newFakeObjectStore(t)

	require.NoError(t, objects.Put(context.Background(), "uploads/app.apk", []byte("binary-data"), "application/octet-stream"))

	handler := &SessionHandler{
		Mobile:   mobile.New(&fakeMobSFClient{}),
		Sessions: sessions,
		Results:  results,
		Objects:  objects,
	}

	job := &queue.Job{
		SessionID: "s3", Kind: "mobile", TestType: "security",
		Payload: json.RawMessage(`{"object_key":"uploads/app.apk","file_name":"app.apk"}`),
	}

	require.NoError(t, handler.Handle(context.Background(), job))

	assert.Equal(t, "completed", sessions.statuses["s3"])
	require.Len(t, results.appended, 1)

	var summary mobileSummary
	require.NoError(t, json.Unmarshal(results.appended[0], &summary))
	assert.Equal(t, "security", summary.TestType)
	assert.True(t, summary.Passed)
	assert.True(t, summary.Configured)
	assert.InDelta(t, 2.5, summary.RiskScore, 0.001)
	assert.Contains(t, summary.ArtifactURLs, "mobsf-report")
}

func TestSessionHandler_UnsupportedJobKind(t *testing.T) {
	handler := &SessionHandler{Sessions: newFakeSessionStore()}

	job := &queue.Job{SessionID: "s4", Kind: "desktop"}

	err := handler.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported job kind")
}

func TestSessionHandler_HandleWeb_SkipsAlreadyTerminalSession(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.statuses["s5"] = "completed"
	results := &fakeResultStore{}

	handler := &SessionHandler{
		Web:      web.New(&fakeWebDriver{}, &fakeBaselineStore{}, &fakeCancelChecker{}, nil),
		Sessions: sessions,
		Results:  results,
		Objects:  newFakeObjectStore(t),
	}

	job := &queue.Job{
		SessionID: "s5", Project: "checkout", Kind: "web", TestType: "smoke",
		Payload: json.RawMessage(`{"url":"https://example.com/checkout"}`),
	}

	require.NoError(t, handler.Handle(context.Background(), job))

	assert.Empty(t, results.appended)
	assert.Equal(t, "completed", sessions.statuses["s5"])
}

func TestSessionHandler_HandleWeb_CanceledMidRun(t *testing.T) {
	sessions := newFakeSessionStore()
	results := &fakeResultStore{}
	cancel := &fakeCancelChecker{canceled: true}

	handler := &SessionHandler{
		Web:      web.New(&fakeWebDriver{}, &fakeBaselineStore{}, &fakeCancelChecker{}, nil),
		Sessions: sessions,
		Results:  results,
		Objects:  newFakeObjectStore(t),
		Cancel:   cancel,
	}

	job := &queue.Job{
		SessionID: "s6", Project: "checkout", Kind: "web", TestType: "smoke",
		Payload: json.RawMessage(`{"url":"https://example.com/checkout"}`),
	}

	require.NoError(t, handler.Handle(context.Background(), job))

	assert.Equal(t, "canceled", sessions.statuses["s6"])
	require.Len(t, results.appended, 1)

	var summary webSummary
	require.NoError(t, json.Unmarshal(results.appended[0], &summary))
	assert.False(t, summary.Passed)
	assert.Contains(t, summary.Policy.Reasons, "session canceled")
}
