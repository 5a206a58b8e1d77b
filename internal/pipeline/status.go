package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
)

// StatusService derives job status from the artifacts stored under the job
// prefix. There is no job record: a job with no artifacts yet is pending, one
// with at least one is ready. Completeness cannot be known.
type StatusService struct {
	store   ArtifactStore
	signer  LinkSigner
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewStatusService(store ArtifactStore, signer LinkSigner, logger *slog.Logger, metrics *observability.Metrics) *StatusService {
	return &StatusService{store: store, signer: signer, logger: logger, metrics: metrics}
}

// GetStatus lists the job's artifacts and signs a link for each. A listing or
// signing fault is returned as an error, never as pending.
func (s *StatusService) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	keys, err := s.artifactKeys(ctx, jobID)
	if err != nil {
		s.metrics.StatusPolls.WithLabelValues("error").Inc()
		return domain.JobStatus{}, err
	}
	if len(keys) == 0 {
		s.metrics.StatusPolls.WithLabelValues(string(domain.JobPending)).Inc()
		return domain.JobStatus{JobID: jobID, State: domain.JobPending}, nil
	}

	links := make([]domain.SecureLink, 0, len(keys))
	for _, key := range keys {
		expires := domain.Now().Add(domain.LinkValidity)
		u, err := s.signer.SignedURL(ctx, key, domain.LinkValidity)
		if err != nil {
			s.metrics.StatusPolls.WithLabelValues("error").Inc()
			return domain.JobStatus{}, wrapErr(domain.ErrTransport, "sign "+key, err)
		}
		links = append(links, domain.SecureLink{Key: key, URL: u, ExpiresAt: expires})
	}

	s.metrics.LinksIssued.Add(float64(len(links)))
	s.metrics.StatusPolls.WithLabelValues(string(domain.JobReady)).Inc()
	s.logger.Debug("job ready", "job_id", jobID, "artifacts", len(links))
	return domain.JobStatus{JobID: jobID, State: domain.JobReady, Links: links}, nil
}

// FirstArtifact opens the first artifact under the job prefix in listing
// order. Returns domain.ErrArtifactNotFound when there is none.
func (s *StatusService) FirstArtifact(ctx context.Context, jobID string) (io.ReadCloser, domain.ObjectInfo, error) {
	keys, err := s.artifactKeys(ctx, jobID)
	if err != nil {
		return nil, domain.ObjectInfo{}, err
	}
	if len(keys) == 0 {
		return nil, domain.ObjectInfo{}, fmt.Errorf("%w: job %s", domain.ErrArtifactNotFound, jobID)
	}
	rc, info, err := s.store.Open(ctx, keys[0])
	if err != nil {
		return nil, domain.ObjectInfo{}, err
	}
	return rc, info, nil
}

func (s *StatusService) artifactKeys(ctx context.Context, jobID string) ([]string, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	objects, err := s.store.List(ctx, domain.JobPrefix(jobID))
	if err != nil {
		return nil, wrapErr(domain.ErrTransport, "list artifacts", err)
	}
	var keys []string
	for _, obj := range objects {
		if domain.IsArtifact(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// validateJobID rejects ids that would widen the listing prefix beyond one job.
func validateJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" || strings.Contains(jobID, "/") {
		return fmt.Errorf("%w: job id %q", domain.ErrInvalidEnvelope, jobID)
	}
	return nil
}
