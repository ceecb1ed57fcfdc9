package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ratemate/taas/internal/executor/mobile"
	"github.com/ratemate/taas/internal/executor/web"
	"github.com/ratemate/taas/internal/notifier"
	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/policy"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/sidecar/lighthouse"
	"github.com/ratemate/taas/internal/sidecar/zap"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/storage"
)

const (
	zapSpiderPollInterval = 2 * time.Second
	zapSpiderMaxPolls     = 60
)

// terminalStatuses are the session states Handle must not re-run a job
// against: a worker that picks up an already-terminal session (a crash
// recovery requeue racing a cancellation, a duplicate delivery) skips it.
var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"canceled":  true,
}

// WebPayload is the job payload shape for test_type values that run the web
// executor: "auto" (crawl from URL) and the fixed-URL test types
// (smoke/full/performance/security/analyze/e2e).
type WebPayload struct {
	URL           string              `json:"url"`
	URLs          []string            `json:"urls"`
	AutoBaseline  bool                `json:"auto_baseline"`
	RunLighthouse bool                `json:"run_lighthouse"`
	RunZAP        bool                `json:"run_zap"`
	Selectors     map[string][]string `json:"selectors"`
}

// MobilePayload is the job payload shape for kind "mobile".
type MobilePayload struct {
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
}

// policySummary reports the pass/fail policy evaluation: pass flags for the
// performance and security dimensions, and the reasons from all three
// dimensions Combine folds together (visual has no flag of its own).
type policySummary struct {
	PerformanceOK bool     `json:"performance_ok"`
	SecurityOK    bool     `json:"security_ok"`
	Reasons       []string `json:"reasons,omitempty"`
}

type webSummary struct {
	TestType     string            `json:"test_type"`
	Passed       bool              `json:"passed"`
	DurationSec  float64           `json:"duration_sec"`
	Pages        []pageSummary     `json:"pages"`
	Performance  *perfSummary      `json:"performance,omitempty"`
	Security     *securitySummary  `json:"security,omitempty"`
	Policy       policySummary     `json:"policy"`
	ArtifactURLs map[string]string `json:"artifact_urls"`
}

type pageSummary struct {
	URL              string   `json:"url"`
	Passed           bool     `json:"passed"`
	StatusCode       int      `json:"status_code"`
	Title            string   `json:"title"`
	Error            string   `json:"error,omitempty"`
	MissingSelectors []string `json:"missing_selectors,omitempty"`
	VisualMismatch   *float64 `json:"visual_mismatch_pct,omitempty"`
}

type perfSummary struct {
	Score float64 `json:"score"`
	LCP   float64 `json:"lcp"`
	CLS   float64 `json:"cls"`
	TTI   float64 `json:"tti"`
}

type securitySummary struct {
	High   int         `json:"high"`
	Medium int         `json:"medium"`
	Low    int         `json:"low"`
	Alerts []zap.Alert `json:"alerts,omitempty"`
}

type mobileSummary struct {
	TestType     string            `json:"test_type"`
	Passed       bool              `json:"passed"`
	DurationSec  float64           `json:"duration_sec"`
	Configured   bool              `json:"configured"`
	RiskScore    float64           `json:"risk_score"`
	Policy       policySummary     `json:"policy"`
	ArtifactURLs map[string]string `json:"artifact_urls"`
}

// SessionHandler dispatches queued jobs to the web or mobile executor,
// persists results, uploads artifacts, evaluates policy, and notifies.
type SessionHandler struct {
	Web        *web.Executor
	Mobile     *mobile.Executor
	Lighthouse *lighthouse.Client // nil disables performance scanning
	ZAP        *zap.Client        // nil disables security scanning
	Sessions   storage.SessionStore
	Results    storage.ResultStore
	Objects    *objectstore.Store
	Notifier   *notifier.Notifier
	Thresholds policy.Thresholds
	Cancel     web.CancelChecker // checked at suspension points outside the executor
	ResultsDir string            // mirrors status transitions to per-session status files
	Logger     *slog.Logger
}

// Handle routes job to the executor matching its kind (web or mobile); the
// job's test_type (smoke, full, auto, ...) only selects behavior within
// that executor, not which executor runs.
func (h *SessionHandler) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case "web":
		return h.handleWeb(ctx, job)
	case "mobile":
		return h.handleMobile(ctx, job)
	default:
		return fmt.Errorf("worker: unsupported job kind %q", job.Kind)
	}
}

// canceled reports whether sessionID has an outstanding cancellation
// request. It is checked at every suspension point a running job passes
// through: before the performance sidecar, between ZAP spider polls, after
// the spider stage, and before every artifact upload. No ZAP AJAX-spider
// stage is run.
func (h *SessionHandler) canceled(ctx context.Context, sessionID string) bool {
	if h.Cancel == nil {
		return false
	}

	ok, err := h.Cancel.IsCancelRequested(ctx, sessionID)
	if err != nil {
		h.logger().Warn("check cancellation failed", slog.String("error", err.Error()))

		return false
	}

	return ok
}

// alreadyTerminal reports whether job's session has already reached a
// terminal state, so a duplicate or recovered delivery is skipped instead
// of re-run.
func (h *SessionHandler) alreadyTerminal(ctx context.Context, sessionID string) bool {
	sess, err := h.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false
	}

	return terminalStatuses[sess.Status]
}

func (h *SessionHandler) handleWeb(ctx context.Context, job *queue.Job) error {
	if h.alreadyTerminal(ctx, job.SessionID) {
		return nil
	}

	start := time.Now()

	var payload WebPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("worker: decode web payload: %w", err)
	}

	if err := h.markRunning(ctx, job.SessionID); err != nil {
		return err
	}

	pages, err := h.Web.Run(ctx, web.Request{
		SessionID:    job.SessionID,
		Project:      job.Project,
		Kind:         job.TestType,
		URL:          payload.URL,
		URLs:         payload.URLs,
		AutoBaseline: payload.AutoBaseline,
		Selectors:    payload.Selectors,
	})
	if err != nil {
		if errors.Is(err, web.ErrCanceled) {
			summary := webSummary{
				Pages:  summarizePages(pages),
				Policy: policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}},
			}

			return h.finalize(ctx, job, start, summary, nil, "canceled")
		}

		return fmt.Errorf("worker: run web executor: %w", err)
	}

	if h.canceled(ctx, job.SessionID) {
		summary := webSummary{
			Pages:  summarizePages(pages),
			Policy: policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}},
		}

		return h.finalize(ctx, job, start, summary, nil, "canceled")
	}

	artifacts := map[string]string{}

	for i, page := range pages {
		if h.canceled(ctx, job.SessionID) {
			summary := webSummary{
				Pages:  summarizePages(pages),
				Policy: policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}},
			}

			return h.finalize(ctx, job, start, summary, artifacts, "canceled")
		}

		if len(page.Screenshot) > 0 {
			key := fmt.Sprintf("artifacts/%s/page-%d.png", job.SessionID, i)
			if err := h.Objects.Put(ctx, key, page.Screenshot, "image/png"); err != nil {
				h.logger().Warn("upload screenshot failed", slog.String("error", err.Error()))
			} else if url, err := h.Objects.PresignGet(ctx, key, true); err == nil {
				artifacts[fmt.Sprintf("page-%d-screenshot", i)] = url
			}
		}

		if len(page.VisualDiff) > 0 {
			key := fmt.Sprintf("artifacts/%s/diff-%d.png", job.SessionID, i)
			if err := h.Objects.Put(ctx, key, page.VisualDiff, "image/png"); err != nil {
				h.logger().Warn("upload diff image failed", slog.String("error", err.Error()))
			} else if url, err := h.Objects.PresignGet(ctx, key, true); err == nil {
				artifacts[fmt.Sprintf("page-%d-diff", i)] = url
			}
		}
	}

	perfVerdict := policy.Verdict{Pass: true}

	var perf *perfSummary

	if payload.RunLighthouse && h.Lighthouse != nil && payload.URL != "" && !h.canceled(ctx, job.SessionID) {
		report, err := h.Lighthouse.Run(ctx, payload.URL, true)
		if err != nil {
			h.logger().Warn("lighthouse run failed", slog.String("error", err.Error()))
		} else {
			perf = &perfSummary{Score: report.PerformanceScore, LCP: report.Metrics.LCP, CLS: report.Metrics.CLS, TTI: report.Metrics.TTI}
			perfVerdict = policy.EvaluatePerformance(h.Thresholds, policy.PerformanceFindings{
				Score: report.PerformanceScore, LCP: report.Metrics.LCP, CLS: report.Metrics.CLS, TTI: report.Metrics.TTI, Loaded: true,
			})

			if report.ReportHTML != "" && !h.canceled(ctx, job.SessionID) {
				key := fmt.Sprintf("artifacts/%s/lighthouse.html", job.SessionID)
				if err := h.Objects.Put(ctx, key, []byte(report.ReportHTML), "text/html"); err == nil {
					if url, err := h.Objects.PresignGet(ctx, key, true); err == nil {
						artifacts["lighthouse-report"] = url
					}
				}
			}
		}
	}

	var sec *securitySummary

	secVerdict := policy.Verdict{Pass: true}

	if payload.RunZAP && h.ZAP != nil && payload.URL != "" {
		if h.canceled(ctx, job.SessionID) {
			summary := webSummary{
				Pages:       summarizePages(pages),
				Performance: perf,
				Policy:      policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}},
			}

			return h.finalize(ctx, job, start, summary, artifacts, "canceled")
		}

		var zapCanceled bool

		sec, secVerdict, zapCanceled = h.runZAP(ctx, job.SessionID, payload.URL, artifacts)
		if zapCanceled {
			summary := webSummary{
				Pages:       summarizePages(pages),
				Performance: perf,
				Security:    sec,
				Policy:      policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}},
			}

			return h.finalize(ctx, job, start, summary, artifacts, "canceled")
		}
	}

	visualVerdict := evaluateVisual(h.Thresholds, pages)

	verdict := policy.Combine(perfVerdict, secVerdict, visualVerdict)

	status := "completed"
	if !verdict.Pass {
		status = "failed"
	}

	summary := webSummary{
		Pages:       summarizePages(pages),
		Performance: perf,
		Security:    sec,
		Policy:      policySummary{PerformanceOK: perfVerdict.Pass, SecurityOK: secVerdict.Pass, Reasons: verdict.Reasons},
	}

	return h.finalize(ctx, job, start, summary, artifacts, status)
}

// runZAP drives a ZAP spider scan to completion and pulls alerts, rechecking
// cancellation between the spider stage and reading alerts, and again
// before uploading the HTML report. The final bool reports whether the
// session was canceled mid-scan, in which case the caller should finalize
// with a canceled status rather than trust sec/verdict as final.
func (h *SessionHandler) runZAP(ctx context.Context, sessionID, target string, artifacts map[string]string) (*securitySummary, policy.Verdict, bool) {
	scanID, err := h.ZAP.StartSpider(ctx, target)
	if err != nil {
		h.logger().Warn("zap spider start failed", slog.String("error", err.Error()))

		return nil, policy.Verdict{Pass: true}, false
	}

	if canceled := h.waitForSpider(ctx, sessionID, scanID); canceled {
		return nil, policy.Verdict{Pass: true}, true
	}

	if h.canceled(ctx, sessionID) {
		return nil, policy.Verdict{Pass: true}, true
	}

	alerts, err := h.ZAP.Alerts(ctx, target)
	if err != nil {
		h.logger().Warn("zap alerts failed", slog.String("error", err.Error()))

		return nil, policy.Verdict{Pass: true}, false
	}

	var high, medium, low int

	for _, a := range alerts {
		switch a.Risk {
		case "High":
			high++
		case "Medium":
			medium++
		case "Low":
			low++
		}
	}

	if !h.canceled(ctx, sessionID) {
		if html, err := h.ZAP.HTMLReport(ctx); err == nil && html != "" {
			key := fmt.Sprintf("artifacts/%s/zap.html", sessionID)
			if err := h.Objects.Put(ctx, key, []byte(html), "text/html"); err == nil {
				if url, err := h.Objects.PresignGet(ctx, key, true); err == nil {
					artifacts["zap-report"] = url
				}
			}
		}
	}

	sec := &securitySummary{High: high, Medium: medium, Low: low, Alerts: alerts}
	verdict := policy.EvaluateSecurity(h.Thresholds, policy.SecurityFindings{High: high, Medium: medium, Scanned: true})

	return sec, verdict, false
}

// waitForSpider polls the spider scan until it completes, the poll budget
// is exhausted, the context is canceled, or an out-of-band cancellation
// request arrives for sessionID - the three suspension conditions spider
// polling must honor, not just ctx.Done().
func (h *SessionHandler) waitForSpider(ctx context.Context, sessionID, scanID string) (canceled bool) {
	for i := 0; i < zapSpiderMaxPolls; i++ {
		if h.canceled(ctx, sessionID) {
			return true
		}

		pct, err := h.ZAP.SpiderStatus(ctx, scanID)
		if err != nil || pct >= 100 {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(zapSpiderPollInterval):
		}
	}

	return false
}

func (h *SessionHandler) handleMobile(ctx context.Context, job *queue.Job) error {
	if h.alreadyTerminal(ctx, job.SessionID) {
		return nil
	}

	start := time.Now()

	var payload MobilePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("worker: decode mobile payload: %w", err)
	}

	if err := h.markRunning(ctx, job.SessionID); err != nil {
		return err
	}

	data, err := h.Objects.Get(ctx, payload.ObjectKey)
	if err != nil {
		return fmt.Errorf("worker: fetch uploaded binary: %w", err)
	}

	if h.canceled(ctx, job.SessionID) {
		return h.finalizeMobile(ctx, job, start, mobileSummary{Policy: policySummary{PerformanceOK: true, SecurityOK: true, Reasons: []string{"session canceled"}}}, nil, "canceled")
	}

	report := h.Mobile.AnalyzeStatic(ctx, mobile.Request{SessionID: job.SessionID, FileName: payload.FileName, FileData: data})

	artifacts := map[string]string{}

	if len(report.ReportHTML) > 0 && !h.canceled(ctx, job.SessionID) {
		key := fmt.Sprintf("artifacts/%s/mobsf.html", job.SessionID)
		if err := h.Objects.Put(ctx, key, report.ReportHTML, "text/html"); err == nil {
			if url, err := h.Objects.PresignGet(ctx, key, true); err == nil {
				artifacts["mobsf-report"] = url
			}
		}
	}

	if report.Error != "" {
		return fmt.Errorf("worker: mobile analysis: %s", report.Error)
	}

	status := "completed"

	summary := mobileSummary{
		Configured: report.Configured,
		RiskScore:  report.RiskScore,
		Policy:     policySummary{PerformanceOK: true, SecurityOK: true},
	}

	return h.finalizeMobile(ctx, job, start, summary, artifacts, status)
}

// markRunning transitions the session to running in both StateStore and the
// local status file, so GET /api/jobs/{id} reflects the transition even if
// the database becomes unreachable immediately after.
func (h *SessionHandler) markRunning(ctx context.Context, sessionID string) error {
	if err := h.Sessions.UpdateSessionStatus(ctx, sessionID, "running"); err != nil {
		return fmt.Errorf("worker: mark running: %w", err)
	}

	h.writeStatusFile(sessionID, "running")

	return nil
}

func (h *SessionHandler) finalize(ctx context.Context, job *queue.Job, start time.Time, summary webSummary, artifacts map[string]string, status string) error {
	summary.TestType = job.TestType
	summary.DurationSec = time.Since(start).Seconds()
	summary.Passed = status == "completed"
	summary.ArtifactURLs = artifacts

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("worker: marshal summary: %w", err)
	}

	if _, err := h.Results.AppendResult(ctx, job.SessionID, data); err != nil {
		return fmt.Errorf("worker: append result: %w", err)
	}

	if err := h.Sessions.UpdateSessionStatus(ctx, job.SessionID, status); err != nil {
		return fmt.Errorf("worker: mark %s: %w", status, err)
	}

	h.writeStatusFile(job.SessionID, status)
	h.notify(ctx, job, status, summary.Performance, summary.Security, artifacts)

	return nil
}

func (h *SessionHandler) finalizeMobile(ctx context.Context, job *queue.Job, start time.Time, summary mobileSummary, artifacts map[string]string, status string) error {
	summary.TestType = job.TestType
	summary.DurationSec = time.Since(start).Seconds()
	summary.Passed = status == "completed"
	summary.ArtifactURLs = artifacts

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("worker: marshal mobile summary: %w", err)
	}

	if _, err := h.Results.AppendResult(ctx, job.SessionID, data); err != nil {
		return fmt.Errorf("worker: append result: %w", err)
	}

	if err := h.Sessions.UpdateSessionStatus(ctx, job.SessionID, status); err != nil {
		return fmt.Errorf("worker: mark %s: %w", status, err)
	}

	h.writeStatusFile(job.SessionID, status)
	h.notify(ctx, job, status, nil, nil, artifacts)

	return nil
}

// writeStatusFile best-effort mirrors a session's stage to a local status
// file, the fallback read path when the database is unavailable. Failures
// are logged, not surfaced, since the StateStore write already succeeded.
func (h *SessionHandler) writeStatusFile(sessionID, stage string) {
	if h.ResultsDir == "" {
		return
	}

	if err := os.MkdirAll(h.ResultsDir, 0o755); err != nil {
		h.logger().Warn("failed to prepare results directory", slog.String("error", err.Error()))

		return
	}

	path := filepath.Join(h.ResultsDir, sessionID+".json")
	if err := statusfile.Write(path, statusfile.Status{SessionID: sessionID, Stage: stage}); err != nil {
		h.logger().Warn("failed to write status file", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func (h *SessionHandler) notify(ctx context.Context, job *queue.Job, status string, perf *perfSummary, sec *securitySummary, artifacts map[string]string) {
	if h.Notifier == nil {
		return
	}

	s := notifier.Summary{SessionID: job.SessionID, TestType: job.TestType, Status: status, ArtifactURLs: artifacts}

	if perf != nil {
		score := perf.Score
		s.PerformanceScore = &score
	}

	if sec != nil {
		high, medium, low := sec.High, sec.Medium, sec.Low
		s.SecurityHigh, s.SecurityMedium, s.SecurityLow = &high, &medium, &low
	}

	if err := h.Notifier.Notify(ctx, s); err != nil {
		h.logger().Warn("notify failed", slog.String("error", err.Error()))
	}
}

func (h *SessionHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}

	return slog.Default()
}

func summarizePages(pages []web.PageResult) []pageSummary {
	out := make([]pageSummary, 0, len(pages))

	for _, p := range pages {
		out = append(out, pageSummary{
			URL: p.URL, Passed: p.Passed, StatusCode: p.StatusCode, Title: p.Title,
			Error: p.Error, MissingSelectors: p.MissingSelectors, VisualMismatch: p.VisualMismatch,
		})
	}

	return out
}

func evaluateVisual(t policy.Thresholds, pages []web.PageResult) policy.Verdict {
	overall := policy.Verdict{Pass: true}

	for _, p := range pages {
		if p.VisualMismatch == nil {
			continue
		}

		v := policy.EvaluateVisual(t, policy.VisualFindings{MismatchPct: *p.VisualMismatch, HasBaseline: true, DiffAvailable: len(p.VisualDiff) > 0})
		if !v.Pass {
			overall.Pass = false
			overall.Reasons = append(overall.Reasons, v.Reasons...)
		}
	}

	return overall
}
