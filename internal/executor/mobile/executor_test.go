package mobile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/sidecar/mobsf"
)

type fakeMobSF struct {
	uploadResult *mobsf.UploadResult
	uploadErr    error
	scanErr      error
	report       *mobsf.Report
	reportErr    error
	html         string
	htmlErr      error
}

func (f *fakeMobSF) Upload(_ context.Context, _ string, _ []byte) (*mobsf.UploadResult, error) {
	return f.uploadResult, f.uploadErr
}

func (f *fakeMobSF) Scan(_ context.Context, _, _ string) error {
	return f.scanErr
}

func (f *fakeMobSF) ReportJSON(_ context.Context, _ string) (*mobsf.Report, error) {
	return f.report, f.reportErr
}

func (f *fakeMobSF) ReportHTML(_ context.Context, _ string) (string, error) {
	return f.html, f.htmlErr
}

func TestExecutor_NotConfiguredIsNoOp(t *testing.T) {
	exec := New(nil)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.apk"})
	assert.False(t, report.Configured)
	assert.True(t, report.Passed)
}

func TestExecutor_AnalyzeStaticFullFlow(t *testing.T) {
	client := &fakeMobSF{
		uploadResult: &mobsf.UploadResult{Hash: "abc123", ScanType: "apk"},
		report:       &mobsf.Report{RiskScore: 4.2},
		html:         "<html>report</html>",
	}

	exec := New(client)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.apk", FileData: []byte("binary")})
	require.Empty(t, report.Error)
	assert.True(t, report.Configured)
	assert.True(t, report.Passed)
	assert.Equal(t, "abc123", report.Hash)
	assert.Equal(t, "apk", report.ScanType)
	assert.InDelta(t, 4.2, report.RiskScore, 0.001)
	assert.Equal(t, "<html>report</html>", string(report.ReportHTML))
}

func TestExecutor_UploadFailureRecordsError(t *testing.T) {
	client := &fakeMobSF{uploadErr: errors.New("connection refused")}

	exec := New(client)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.apk"})
	assert.Contains(t, report.Error, "upload failed")
}

func TestExecutor_ScanFailureRecordsError(t *testing.T) {
	client := &fakeMobSF{
		uploadResult: &mobsf.UploadResult{Hash: "abc123"},
		scanErr:      errors.New("scan rejected"),
	}

	exec := New(client)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.apk"})
	assert.Contains(t, report.Error, "scan failed")
	assert.Equal(t, "abc123", report.Hash)
}

func TestExecutor_MissingScanTypeInferredFromFileName(t *testing.T) {
	client := &fakeMobSF{
		uploadResult: &mobsf.UploadResult{Hash: "abc123"},
		report:       &mobsf.Report{RiskScore: 1},
	}

	exec := New(client)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.ipa"})
	assert.Equal(t, "ipa", report.ScanType)
}

func TestExecutor_ReportHTMLFailureIsNonFatal(t *testing.T) {
	client := &fakeMobSF{
		uploadResult: &mobsf.UploadResult{Hash: "abc123"},
		report:       &mobsf.Report{RiskScore: 1},
		htmlErr:      errors.New("report not ready"),
	}

	exec := New(client)

	report := exec.AnalyzeStatic(context.Background(), Request{SessionID: "s1", FileName: "app.apk"})
	assert.Empty(t, report.Error)
	assert.True(t, report.Passed)
	assert.Empty(t, report.ReportHTML)
}
