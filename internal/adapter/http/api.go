// Package http exposes the job API: submit a job, poll its status, and fetch
// the first rendered artifact.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
)

// JobSubmitter starts jobs.
type JobSubmitter interface {
	Submit(ctx context.Context) (pipeline.Submission, error)
}

// JobStatusReader answers status polls and legacy image fetches.
type JobStatusReader interface {
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	FirstArtifact(ctx context.Context, jobID string) (io.ReadCloser, domain.ObjectInfo, error)
}

// Router is satisfied by *http.ServeMux and the ops server.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// API holds the job handlers.
type API struct {
	submitter JobSubmitter
	status    JobStatusReader
	apiKey    string
	logger    *slog.Logger
}

// NewAPI creates the job API. An empty apiKey disables authentication.
func NewAPI(submitter JobSubmitter, status JobStatusReader, apiKey string, logger *slog.Logger) *API {
	return &API{submitter: submitter, status: status, apiKey: apiKey, logger: logger}
}

type submitResponse struct {
	Message   string `json:"message"`
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

type statusResponse struct {
	JobID     string   `json:"jobId"`
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register mounts the job routes on r. Every route is also served under /api.
func (a *API) Register(r Router) {
	for _, prefix := range []string{"", "/api"} {
		r.Handle("POST "+prefix+"/jobs", a.guard(a.handleSubmit))
		r.Handle("GET "+prefix+"/jobs", a.guard(a.handleSubmit))
		r.Handle("GET "+prefix+"/status/{jobId}", a.guard(a.handleStatus))
		r.Handle("GET "+prefix+"/image/{jobId}", a.guard(a.handleImage))
	}
}

// Handler returns the job routes on their own mux.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

// guard enforces the bearer key before the handler does any work.
func (a *API) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" && !a.authorized(r) {
			a.logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.ErrUnauthorized.Error()})
			return
		}
		next(w, r)
	})
}

func (a *API) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.apiKey)) == 1
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := a.submitter.Submit(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, submitResponse{
			Message:   "Weather image job started.",
			JobID:     sub.JobID,
			StatusURL: sub.StatusURL,
		})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		a.logger.Error("submit failed: weather feed unavailable", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Failed to fetch weather data."})
	default:
		a.logger.Error("submit failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to start weather image job."})
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	st, err := a.status.GetStatus(r.Context(), jobID)
	if err != nil {
		a.writeLookupError(w, jobID, err)
		return
	}

	if st.State == domain.JobPending {
		writeJSON(w, http.StatusAccepted, statusResponse{
			JobID:   jobID,
			Status:  string(domain.JobPending),
			Message: fmt.Sprintf("Job with jobId %s is still processing or no images have been generated yet.", jobID),
		})
		return
	}

	urls := make([]string, len(st.Links))
	for i, l := range st.Links {
		urls[i] = l.URL
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:     jobID,
		Status:    string(domain.JobReady),
		ImageURLs: urls,
	})
}

func (a *API) handleImage(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	rc, info, err := a.status.FirstArtifact(r.Context(), jobID)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No image found for jobId " + jobID + "."})
		return
	}
	if err != nil {
		a.writeLookupError(w, jobID, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(info.Key)))
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("stream artifact failed", "job_id", jobID, "key", info.Key, "error", err)
	}
}

func (a *API) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, domain.ErrInvalidEnvelope) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid jobId."})
		return
	}
	a.logger.Error("job lookup failed", "job_id", jobID, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to read job status."})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
