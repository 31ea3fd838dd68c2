package gitlab

import (
	"context"

	"cimon/internal/models"
)

// PipelineService binds a Client to one project so callers can work with
// bare job and pipeline ids.
type PipelineService struct {
	client    *Client
	projectID int64
}

// NewPipelineService creates a project-bound view of the client.
func NewPipelineService(client *Client, projectID int64) *PipelineService {
	return &PipelineService{client: client, projectID: projectID}
}

func (s *PipelineService) ListPipelineJobs(ctx context.Context, pipelineID int64) ([]models.Job, error) {
	return s.client.ListPipelineJobs(ctx, s.projectID, pipelineID)
}

func (s *PipelineService) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return s.client.GetJob(ctx, s.projectID, jobID)
}

func (s *PipelineService) PlayJob(ctx context.Context, jobID int64) error {
	return s.client.PlayJob(ctx, s.projectID, jobID)
}

func (s *PipelineService) RetryJob(ctx context.Context, jobID int64) error {
	return s.client.RetryJob(ctx, s.projectID, jobID)
}

func (s *PipelineService) CancelJob(ctx context.Context, jobID int64) error {
	return s.client.CancelJob(ctx, s.projectID, jobID)
}

func (s *PipelineService) JobTrace(ctx context.Context, jobID int64) (string, error) {
	return s.client.JobTrace(ctx, s.projectID, jobID)
}
