package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ratemate/taas/internal/executor/web"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/storage"
)

// setupRoutes registers every admission API endpoint on mux, wrapping each
// with the middleware chain appropriate to its exposure: publicChain for
// endpoints with nothing to protect, apiChain for regular endpoints, and
// adminChain for key administration.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.Handle("GET /", s.publicChain(http.HandlerFunc(s.handleServiceDescriptor)))
	mux.Handle("GET /healthz", s.publicChain(http.HandlerFunc(s.handleHealthz)))

	mux.Handle("GET /api/stats", s.apiChain(http.HandlerFunc(s.handleStats)))
	mux.Handle("POST /api/test/web", s.apiChain(http.HandlerFunc(s.handleSubmitWeb)))
	mux.Handle("POST /api/test/mobile", s.apiChain(http.HandlerFunc(s.handleSubmitMobile)))
	mux.Handle("POST /api/upload/mobile", s.apiChain(http.HandlerFunc(s.handleUploadMobile)))

	mux.Handle("GET /api/jobs/{id}", s.apiChain(http.HandlerFunc(s.handleJobStatus)))
	mux.Handle("POST /api/jobs/{id}/cancel", s.apiChain(http.HandlerFunc(s.handleJobCancel)))
	mux.Handle("POST /api/jobs/{id}/retry", s.apiChain(http.HandlerFunc(s.handleJobRetry)))
	mux.Handle("GET /api/job-results/{id}", s.apiChain(http.HandlerFunc(s.handleJobResults)))
	mux.Handle("GET /api/artifacts/{id}/{name}", s.apiChain(http.HandlerFunc(s.handleArtifact)))

	mux.Handle("POST /api/visual/accept", s.apiChain(http.HandlerFunc(s.handleVisualAccept)))

	mux.Handle("GET /api/sessions", s.apiChain(http.HandlerFunc(s.handleListSessions)))
	mux.Handle("GET /api/sessions/{id}", s.apiChain(http.HandlerFunc(s.handleSessionDetail)))
	mux.Handle("GET /api/sessions/{id}/results", s.apiChain(http.HandlerFunc(s.handleSessionResults)))
	mux.Handle("GET /api/sessions/{id}/alerts.json", s.apiChain(http.HandlerFunc(s.handleSessionAlertsJSON)))
	mux.Handle("GET /api/sessions/{id}/alerts.csv", s.apiChain(http.HandlerFunc(s.handleSessionAlertsCSV)))

	mux.Handle("GET /api/results/{id}", s.apiChain(http.HandlerFunc(s.handleResultDetail)))
	mux.Handle("GET /api/results/{id}/alerts.json", s.apiChain(http.HandlerFunc(s.handleResultAlertsJSON)))
	mux.Handle("GET /api/results/{id}/alerts.csv", s.apiChain(http.HandlerFunc(s.handleResultAlertsCSV)))

	mux.Handle("GET /api/projects", s.apiChain(http.HandlerFunc(s.handleProjects)))

	mux.Handle("GET /api/admin/keys", s.adminChain(http.HandlerFunc(s.handleAdminKeysList)))
	mux.Handle("POST /api/admin/keys", s.adminChain(http.HandlerFunc(s.handleAdminKeysCreate)))
	mux.Handle("PATCH /api/admin/keys/{id}", s.adminChain(http.HandlerFunc(s.handleAdminKeysUpdate)))
}

func (s *Server) handleServiceDescriptor(w http.ResponseWriter, r *http.Request) {
	uptime := time.Duration(0)
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	writeJSON(w, http.StatusOK, ServiceDescriptorResponse{
		Service: "taas-admission-api",
		Version: "1.0.0",
		Uptime:  uptime.String(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{S3Configured: s.objects != nil}

	if err := s.sessions.HealthCheck(r.Context()); err == nil {
		resp.DB = true
	}

	if s.jobs != nil {
		if _, err := s.jobs.PendingCount(r.Context()); err == nil {
			resp.Redis = true
		}
	}

	resp.OK = resp.DB && (s.jobs == nil || resp.Redis)

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var pending int64

	if s.jobs != nil {
		n, err := s.jobs.PendingCount(r.Context())
		if err != nil {
			WriteErrorResponse(w, r, s.logger, Transient("queue is unavailable"))

			return
		}

		pending = n
	}

	projects, err := s.sessions.ListProjects(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load session counts"))

		return
	}

	var total int64
	for _, p := range projects {
		total += p.Sessions
	}

	writeJSON(w, http.StatusOK, StatsResponse{PendingJobs: pending, TotalSessions: total})
}

func (s *Server) handleSubmitWeb(w http.ResponseWriter, r *http.Request) {
	s.submitTest(w, r, "web")
}

func (s *Server) handleSubmitMobile(w http.ResponseWriter, r *http.Request) {
	s.submitTest(w, r, "mobile")
}

func (s *Server) submitTest(w http.ResponseWriter, r *http.Request, kind string) {
	var req SubmitTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON body: "+err.Error()))

		return
	}

	if req.TestType == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("test_type is required"))

		return
	}

	if kind == "web" && req.URL == "" && req.Site == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("url or site is required"))

		return
	}

	if kind == "mobile" && req.ObjectKey == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("object_key is required"))

		return
	}

	sessionID := uuid.NewString()

	var (
		payload []byte
		err     error
	)

	switch kind {
	case "web":
		payload, err = json.Marshal(map[string]any{
			"url":            req.URL,
			"urls":           req.Routes,
			"auto_baseline":  req.AutoBaseline,
			"run_lighthouse": req.RunLighthouse,
			"run_zap":        req.RunZAP,
			"selectors":      req.Selectors,
		})
	case "mobile":
		payload, err = json.Marshal(map[string]any{
			"object_key": req.ObjectKey,
			"file_name":  req.FileName,
		})
	}

	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode job payload"))

		return
	}

	if err := s.sessions.UpsertSession(r.Context(), sessionID, req.Project, kind, req.TestType, "queued", payload); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to record session"))

		return
	}

	s.writeStatusFile(sessionID, "queued")

	if s.jobs != nil {
		job := &queue.Job{
			SessionID: sessionID,
			Project:   req.Project,
			Kind:      kind,
			TestType:  req.TestType,
			Payload:   payload,
		}

		if err := s.jobs.Enqueue(r.Context(), job); err != nil {
			WriteErrorResponse(w, r, s.logger, Transient("failed to enqueue job"))

			return
		}
	}

	writeJSON(w, http.StatusOK, SubmitTestResponse{JobID: sessionID, Status: "queued"})
}

func (s *Server) handleUploadMobile(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.UploadMaxMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("upload exceeds the configured size limit"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("missing multipart file field \"file\""))

		return
	}
	defer file.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !extensionAllowed(ext, s.config.UploadAllowedExts) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMedia(fmt.Sprintf("extension %q is not allowed", ext)))

		return
	}

	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to prepare upload directory"))

		return
	}

	destPath := filepath.Join(s.config.UploadDir, fmt.Sprintf("%s-%s", uuid.NewString(), filepath.Base(header.Filename)))

	dest, err := os.Create(destPath)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to create upload file"))

		return
	}

	const copyChunk = 1 << 20 // 1 MiB

	written, err := io.CopyBuffer(dest, file, make([]byte, copyChunk))

	closeErr := dest.Close()

	if err != nil {
		_ = os.Remove(destPath)

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("upload exceeds the configured size limit"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to store upload"))

		return
	}

	if closeErr != nil {
		_ = os.Remove(destPath)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to finalize upload"))

		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Path: destPath, FileName: header.Filename, Size: written})
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(ext, strings.TrimPrefix(a, ".")) {
			return true
		}
	}

	return false
}

// handleJobStatus reports job status from the primary, fastest-available
// source: the local StatusFile. It falls back to StateStore (the sessions
// table) when no status file exists, so a cold worker or a pre-migration
// session still resolves. Because the status file is read first, GET still
// answers when the database itself is down but a status file was already written.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if status, ok := s.readStatusFile(id); ok {
		resp := JobStatusResponse{JobID: id, Status: status.Stage, UpdatedAt: status.UpdatedAt}

		if result, err := s.results.LatestResult(r.Context(), id); err == nil {
			resp.LatestResult = result.Summary
			resp.ArtifactURLs, _ = extractArtifacts(result.Summary)
		}

		writeJSON(w, http.StatusOK, resp)

		return
	}

	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load job"))

		return
	}

	resp := JobStatusResponse{JobID: session.ID, Status: session.Status, CreatedAt: session.CreatedAt, UpdatedAt: session.UpdatedAt}

	if result, err := s.results.LatestResult(r.Context(), id); err == nil {
		resp.LatestResult = result.Summary
		resp.ArtifactURLs, _ = extractArtifacts(result.Summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.sessions.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load job"))

		return
	}

	if s.jobs != nil {
		if err := s.jobs.RequestCancel(r.Context(), id); err != nil {
			WriteErrorResponse(w, r, s.logger, Transient("failed to request cancellation"))

			return
		}
	}

	s.writeStatusFile(id, "cancel_requested")

	writeJSON(w, http.StatusOK, CancelResponse{OK: true})
}

func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load job"))

		return
	}

	payload := session.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	newID := uuid.NewString()
	if err := s.sessions.UpsertSession(r.Context(), newID, session.Project, session.Kind, session.TestType, "queued", payload); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to record retry session"))

		return
	}

	s.writeStatusFile(newID, "queued")

	if s.jobs != nil {
		job := &queue.Job{SessionID: newID, Project: session.Project, Kind: session.Kind, TestType: session.TestType, Payload: payload}
		if err := s.jobs.Enqueue(r.Context(), job); err != nil {
			WriteErrorResponse(w, r, s.logger, Transient("failed to enqueue retry"))

			return
		}
	}

	writeJSON(w, http.StatusOK, RetryResponse{JobID: newID, Status: "queued"})
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.results.LatestResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("no result recorded for this job"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Summary)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("object storage is not configured"))

		return
	}

	id := r.PathValue("id")
	name := r.PathValue("name")
	key := fmt.Sprintf("artifacts/%s/%s", id, name)

	exists, err := s.objects.Exists(r.Context(), key)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Transient("object storage is unavailable"))

		return
	}

	if !exists {
		WriteErrorResponse(w, r, s.logger, NotFound("artifact not found"))

		return
	}

	url, err := s.objects.PresignGet(r.Context(), key, true)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to presign artifact"))

		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleVisualAccept(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("object storage is not configured"))

		return
	}

	var req VisualAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON body: "+err.Error()))

		return
	}

	if req.SessionID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("session_id is required"))

		return
	}

	candidateKey := fmt.Sprintf("artifacts/%s/page-%d.png", req.SessionID, req.Index)

	data, ok, err := s.objects.GetIfExists(r.Context(), candidateKey)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Transient("object storage is unavailable"))

		return
	}

	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("no screenshot recorded at that index"))

		return
	}

	pageURL, err := s.pageURLAt(r.Context(), req.SessionID, req.Index)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("no screenshot recorded at that index"))

		return
	}

	project := req.Project
	if project == "" {
		project = "default"
	}

	baselineKey := web.BaselineKey(project, pageURL)
	if err := s.objects.Put(r.Context(), baselineKey, data, "image/png"); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to store new baseline"))

		return
	}

	url, err := s.objects.PresignGet(r.Context(), baselineKey, true)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to presign baseline"))

		return
	}

	writeJSON(w, http.StatusOK, VisualAcceptResponse{BaselineKey: baselineKey, URL: url})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := storage.SessionFilter{
		Project:  r.URL.Query().Get("project"),
		Kind:     r.URL.Query().Get("kind"),
		Status:   r.URL.Query().Get("status"),
		TestType: r.URL.Query().Get("test_type"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	sessions, err := s.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list sessions"))

		return
	}

	resp := SessionListResponse{Limit: filter.Limit, Offset: filter.Offset}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("session not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load session"))

		return
	}

	resp := SessionDetailResponse{SessionResponse: toSessionResponse(session)}

	if result, err := s.results.LatestResult(r.Context(), id); err == nil {
		rr := toResultResponse(result)
		resp.LatestResult = &rr
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	results, err := s.results.ListResults(r.Context(), id, limit, offset)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list results"))

		return
	}

	resp := ResultListResponse{Limit: limit, Offset: offset}
	for _, res := range results {
		resp.Results = append(resp.Results, toResultResponse(res))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResultDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("result id must be numeric"))

		return
	}

	result, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("result not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(result))
}

func (s *Server) handleResultAlertsJSON(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("result id must be numeric"))

		return
	}

	result, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("result not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	alerts, err := extractAlerts(result.Summary)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to parse alerts"))

		return
	}

	writeJSON(w, http.StatusOK, AlertsResponse{ResultID: result.ID, Alerts: alerts})
}

func (s *Server) handleResultAlertsCSV(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("result id must be numeric"))

		return
	}

	result, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("result not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	alerts, err := extractAlerts(result.Summary)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to parse alerts"))

		return
	}

	writeAlertsCSV(w, alerts)
}

func (s *Server) handleSessionAlertsJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.results.LatestResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("no result recorded for this session"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	alerts, err := extractAlerts(result.Summary)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to parse alerts"))

		return
	}

	writeJSON(w, http.StatusOK, AlertsResponse{SessionID: id, Alerts: alerts})
}

func (s *Server) handleSessionAlertsCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.results.LatestResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("no result recorded for this session"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load result"))

		return
	}

	alerts, err := extractAlerts(result.Summary)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to parse alerts"))

		return
	}

	writeAlertsCSV(w, alerts)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.sessions.ListProjects(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list projects"))

		return
	}

	resp := ProjectsResponse{}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, ProjectSummary{Project: p.Project, Sessions: p.Sessions})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminKeysList(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("api key store is not configured"))

		return
	}

	keys, err := s.apiKeys.ListAPIKeys(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list api keys"))

		return
	}

	resp := APIKeyListResponse{}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, toAPIKeyResponse(k))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminKeysCreate(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("api key store is not configured"))

		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON body: "+err.Error()))

		return
	}

	if req.Name == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("name is required"))

		return
	}

	raw, key, err := s.apiKeys.InsertAPIKey(r.Context(), req.Name, req.Project, req.RateLimitPerMin)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to create api key"))

		return
	}

	writeJSON(w, http.StatusOK, CreateAPIKeyResponse{Key: toAPIKeyResponse(key), Raw: raw})
}

func (s *Server) handleAdminKeysUpdate(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("api key store is not configured"))

		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("key id must be numeric"))

		return
	}

	var req UpdateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON body: "+err.Error()))

		return
	}

	key, err := s.apiKeys.UpdateAPIKey(r.Context(), id, req.Active, req.RateLimitPerMin)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("api key not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to update api key"))

		return
	}

	writeJSON(w, http.StatusOK, toAPIKeyResponse(key))
}

// writeStatusFile best-effort mirrors session status to a local status file,
// the fallback read path when the database is unavailable. Failures are
// logged, not surfaced, since the database write already succeeded.
func (s *Server) writeStatusFile(sessionID, stage string) {
	if s.config.ResultsDir == "" {
		return
	}

	if err := os.MkdirAll(s.config.ResultsDir, 0o755); err != nil {
		s.logger.Warn("failed to prepare results directory", slog.String("error", err.Error()))

		return
	}

	path := filepath.Join(s.config.ResultsDir, sessionID+".json")
	if err := statusfile.Write(path, statusfile.Status{SessionID: sessionID, Stage: stage}); err != nil {
		s.logger.Warn("failed to write status file", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

// readStatusFile loads sessionID's local status file, reporting ok=false
// when results storage isn't configured or the file doesn't exist yet -
// both cases fall back to StateStore rather than erroring.
func (s *Server) readStatusFile(sessionID string) (statusfile.Status, bool) {
	if s.config.ResultsDir == "" {
		return statusfile.Status{}, false
	}

	path := filepath.Join(s.config.ResultsDir, sessionID+".json")

	status, err := statusfile.Read(path)
	if err != nil {
		return statusfile.Status{}, false
	}

	return status, true
}

func toSessionResponse(sess *storage.Session) SessionResponse {
	return SessionResponse{
		ID: sess.ID, Project: sess.Project, Kind: sess.Kind, TestType: sess.TestType,
		Status: sess.Status, CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt,
	}
}

func toResultResponse(res *storage.Result) ResultResponse {
	return ResultResponse{ID: res.ID, SessionID: res.SessionID, Summary: res.Summary, CreatedAt: res.CreatedAt}
}

func toAPIKeyResponse(k *storage.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, Project: k.Project, RateLimitPerMin: k.RateLimitPerMin, Active: k.Active}
}

// extractArtifacts pulls the "artifact_urls" map out of a result summary
// without needing to know whether it came from the web or mobile executor.
func extractArtifacts(summary json.RawMessage) (map[string]string, error) {
	var shape struct {
		ArtifactURLs map[string]string `json:"artifact_urls"`
	}

	if err := json.Unmarshal(summary, &shape); err != nil {
		return nil, fmt.Errorf("extract artifacts: %w", err)
	}

	return shape.ArtifactURLs, nil
}

// pageURLAt resolves the URL a visual-accept request's page index refers
// to, by looking it up in the session's latest recorded result - the
// screenshot at that index and the baseline key it gets promoted to must
// agree on the same URL for the round trip to hold.
func (s *Server) pageURLAt(ctx context.Context, sessionID string, index int) (string, error) {
	result, err := s.results.LatestResult(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load latest result: %w", err)
	}

	var shape struct {
		Pages []struct {
			URL string `json:"url"`
		} `json:"pages"`
	}

	if err := json.Unmarshal(result.Summary, &shape); err != nil {
		return "", fmt.Errorf("parse result summary: %w", err)
	}

	if index < 0 || index >= len(shape.Pages) {
		return "", fmt.Errorf("page index %d out of range", index)
	}

	return shape.Pages[index].URL, nil
}

// extractAlerts pulls ZAP alerts out of a web-executor result summary. A
// summary with no security dimension (mobile, or web without run_zap)
// yields an empty slice rather than an error.
func extractAlerts(summary json.RawMessage) ([]ArtifactAlert, error) {
	var shape struct {
		Security *struct {
			Alerts []ArtifactAlert `json:"alerts"`
		} `json:"security"`
	}

	if err := json.Unmarshal(summary, &shape); err != nil {
		return nil, fmt.Errorf("extract alerts: %w", err)
	}

	if shape.Security == nil {
		return nil, nil
	}

	return shape.Security.Alerts, nil
}

// writeAlertsCSV writes alerts in risk,alert,url,evidence column order with
// RFC-4180 quoting.
func writeAlertsCSV(w http.ResponseWriter, alerts []ArtifactAlert) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"risk", "alert", "url", "evidence"})

	for _, a := range alerts {
		_ = cw.Write([]string{a.Risk, a.Alert, a.URL, a.Evidence})
	}

	cw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}
