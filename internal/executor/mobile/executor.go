// Package mobile implements the mobile test executor: static analysis of an
// uploaded APK/IPA via a MobSF sidecar.
package mobile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ratemate/taas/internal/sidecar/mobsf"
)

// Report is the outcome of a mobile analysis run.
type Report struct {
	Analyzer   string
	Configured bool
	Passed     bool
	Summary    string
	Hash       string
	ScanType   string
	RiskScore  float64
	Error      string
	ReportHTML []byte
}

// MobSFClient is the subset of sidecar/mobsf.Client the executor depends on.
type MobSFClient interface {
	Upload(ctx context.Context, fileName string, data []byte) (*mobsf.UploadResult, error)
	Scan(ctx context.Context, hash, scanType string) error
	ReportJSON(ctx context.Context, hash string) (*mobsf.Report, error)
	ReportHTML(ctx context.Context, hash string) (string, error)
}

// Request describes one mobile analysis invocation.
type Request struct {
	SessionID string
	FileName  string
	FileData  []byte
}

// Executor runs mobile test sessions.
type Executor struct {
	client MobSFClient
}

// New returns an Executor. A nil client makes AnalyzeStatic a graceful
// no-op, matching a deployment where MobSF was never configured.
func New(client MobSFClient) *Executor {
	return &Executor{client: client}
}

// AnalyzeStatic runs MobSF static analysis against req.FileData.
func (e *Executor) AnalyzeStatic(ctx context.Context, req Request) Report {
	if e.client == nil {
		return Report{
			Analyzer:   "MobSF",
			Configured: false,
			Passed:     true,
			Summary:    "skipped",
		}
	}

	upload, err := e.client.Upload(ctx, req.FileName, req.FileData)
	if err != nil {
		return Report{Analyzer: "MobSF", Configured: true, Error: fmt.Sprintf("upload failed: %v", err)}
	}

	scanType := upload.ScanType
	if scanType == "" {
		scanType = inferScanType(req.FileName)
	}

	if err := e.client.Scan(ctx, upload.Hash, scanType); err != nil {
		return Report{Analyzer: "MobSF", Configured: true, Hash: upload.Hash, ScanType: scanType, Error: fmt.Sprintf("scan failed: %v", err)}
	}

	report, err := e.client.ReportJSON(ctx, upload.Hash)
	if err != nil {
		return Report{Analyzer: "MobSF", Configured: true, Hash: upload.Hash, ScanType: scanType, Error: fmt.Sprintf("report failed: %v", err)}
	}

	reportHTML, err := e.client.ReportHTML(ctx, upload.Hash)
	if err != nil {
		reportHTML = ""
	}

	return Report{
		Analyzer:   "MobSF",
		Configured: true,
		Passed:     true,
		Summary:    "Static analysis completed",
		Hash:       upload.Hash,
		ScanType:   scanType,
		RiskScore:  report.RiskScore,
		ReportHTML: []byte(reportHTML),
	}
}

func inferScanType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".ipa" {
		return "ipa"
	}

	return "apk"
}
