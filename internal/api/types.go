package api

import (
	"encoding/json"
	"time"
)

// SubmitTestRequest is the body of POST /api/test/web and /api/test/mobile.
type SubmitTestRequest struct {
	URL           string              `json:"url,omitempty"`
	ObjectKey     string              `json:"object_key,omitempty"`
	FileName      string              `json:"file_name,omitempty"`
	TestType      string              `json:"test_type"`
	Site          string              `json:"site,omitempty"`
	Routes        []string            `json:"routes,omitempty"`
	Project       string              `json:"project,omitempty"`
	AutoBaseline  bool                `json:"auto_baseline,omitempty"`
	RunLighthouse bool                `json:"run_lighthouse,omitempty"`
	RunZAP        bool                `json:"run_zap,omitempty"`
	Selectors     map[string][]string `json:"selectors,omitempty"`
}

// SubmitTestResponse is returned on successful admission, echoing the
// assigned job id so a caller can immediately poll status. The job id is
// the session id: every admitted test session is exactly one queued job.
type SubmitTestResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// UploadResponse is returned by POST /api/upload/mobile once the binary has
// been streamed to the upload directory and validated.
type UploadResponse struct {
	Path     string `json:"path"`
	FileName string `json:"filename"`
	Size     int64  `json:"size"`
}

// SessionResponse describes a single session's current lifecycle state.
type SessionResponse struct {
	ID        string    `json:"id"`
	Project   string    `json:"project,omitempty"`
	Kind      string    `json:"kind"`
	TestType  string    `json:"test_type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionListResponse is returned by GET /api/sessions.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ResultResponse is a single recorded test outcome.
type ResultResponse struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Summary   json.RawMessage `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResultListResponse is returned by GET /api/sessions/{id}/results.
type ResultListResponse struct {
	Results []ResultResponse `json:"results"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ArtifactAlert is one security finding in a ZAP-derived alert export.
// Field order matches the CSV column order: risk,alert,url,evidence.
type ArtifactAlert struct {
	Risk     string `json:"risk"`
	Alert    string `json:"alert"`
	URL      string `json:"url"`
	Evidence string `json:"evidence"`
}

// AlertsResponse is returned by the JSON variant of the alerts export
// endpoints.
type AlertsResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	ResultID  int64           `json:"result_id,omitempty"`
	Alerts    []ArtifactAlert `json:"alerts"`
}

// VisualAcceptRequest promotes a candidate screenshot captured during a
// prior run to the new baseline for its page index.
type VisualAcceptRequest struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Project   string `json:"project,omitempty"`
}

// VisualAcceptResponse confirms the new baseline key and a presigned URL to
// view it.
type VisualAcceptResponse struct {
	BaselineKey string `json:"baseline_key"`
	URL         string `json:"url"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	PendingJobs   int64 `json:"pending_jobs"`
	TotalSessions int64 `json:"total_sessions"`
}

// ProjectsResponse is returned by GET /api/projects.
type ProjectsResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// ProjectSummary is one project's session rollup.
type ProjectSummary struct {
	Project  string `json:"project"`
	Sessions int64  `json:"sessions"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	OK           bool `json:"ok"`
	Redis        bool `json:"redis"`
	DB           bool `json:"db"`
	S3Configured bool `json:"s3_configured"`
}

// ServiceDescriptorResponse is returned by GET /, describing the service
// for discovery by operators and API clients.
type ServiceDescriptorResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// CreateAPIKeyRequest is the body of POST /api/admin/keys.
type CreateAPIKeyRequest struct {
	Name            string `json:"name"`
	Project         string `json:"project,omitempty"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
}

// CreateAPIKeyResponse returns the generated raw key exactly once.
type CreateAPIKeyResponse struct {
	Key APIKeyResponse `json:"key"`
	Raw string         `json:"raw_key"`
}

// APIKeyResponse is the administrable view of a stored key (never includes
// the raw secret).
type APIKeyResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Project         string `json:"project,omitempty"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	Active          bool   `json:"active"`
}

// APIKeyListResponse is returned by GET /api/admin/keys.
type APIKeyListResponse struct {
	Keys []APIKeyResponse `json:"keys"`
}

// UpdateAPIKeyRequest is the body of PATCH /api/admin/keys/{id}. Nil fields
// are left unchanged.
type UpdateAPIKeyRequest struct {
	Active          *bool `json:"active,omitempty"`
	RateLimitPerMin *int  `json:"rate_limit_per_min,omitempty"`
}

// JobStatusResponse is returned by GET /api/jobs/{id}: the session's current
// status plus the artifact URLs and result summary recorded so far.
type JobStatusResponse struct {
	JobID        string            `json:"job_id"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ArtifactURLs map[string]string `json:"artifact_urls,omitempty"`
	LatestResult json.RawMessage   `json:"latest_result,omitempty"`
}

// CancelResponse confirms a cancel flag was set for a job.
type CancelResponse struct {
	OK bool `json:"ok"`
}

// RetryResponse is returned by POST /api/jobs/{id}/retry, naming the new
// clone's job id.
type RetryResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SessionDetailResponse is returned by GET /api/sessions/{id}: the session
// plus its most recently recorded result, if any.
type SessionDetailResponse struct {
	SessionResponse
	LatestResult *ResultResponse `json:"latest_result,omitempty"`
}
