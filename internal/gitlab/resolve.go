package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cimon/internal/models"
)

// ParsePipelineURL splits a pipeline web URL of the form
// <base>/<namespace>/<project>/-/pipelines/<id> into the project path and
// pipeline id. The URL must belong to the configured GitLab instance.
func ParsePipelineURL(baseURL, pipelineURL string) (string, int64, error) {
	if !strings.HasPrefix(pipelineURL, baseURL) {
		return "", 0, fmt.Errorf("pipeline URL %q does not belong to %s", pipelineURL, baseURL)
	}

	path := strings.TrimPrefix(pipelineURL, baseURL)
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 5 || parts[2] != "-" || parts[3] != "pipelines" {
		return "", 0, fmt.Errorf("malformed pipeline URL %q: expected <base>/<namespace>/<project>/-/pipelines/<id>", pipelineURL)
	}

	id, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed pipeline URL %q: bad pipeline id %q", pipelineURL, parts[4])
	}

	return parts[0] + "/" + parts[1], id, nil
}

// WaitForPipeline polls until a pipeline exists for the revision and
// returns the newest one. A zero timeout waits until the context is
// cancelled.
func (c *Client) WaitForPipeline(ctx context.Context, projectID int64, sha string, interval, timeout time.Duration) (*models.Pipeline, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		pipelines, err := c.ListPipelines(ctx, projectID, sha)
		if err != nil {
			return nil, err
		}
		if len(pipelines) > 0 {
			return &pipelines[0], nil
		}

		if c.logger != nil {
			c.logger.Info().
				Str("sha", sha).
				Msg("No pipeline yet for revision, waiting")
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("no pipeline appeared for revision %s within %v", sha, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
