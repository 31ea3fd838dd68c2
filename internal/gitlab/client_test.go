package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("secret", WithBaseURL(server.URL), WithRateLimit(1000))
}

func TestPrivateTokenHeader(t *testing.T) {
	var gotToken string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		fmt.Fprint(w, `{"id": 42, "path_with_namespace": "mesa/mesa"}`)
	}))

	project, err := client.Project(context.Background(), "mesa/mesa")
	require.NoError(t, err)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, int64(42), project.ID)
	assert.Equal(t, "mesa/mesa", project.PathWithNamespace)
}

func TestProjectPathIsEscaped(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		fmt.Fprint(w, `{"id": 1}`)
	}))

	_, err := client.Project(context.Background(), "mesa/mesa")
	require.NoError(t, err)
	assert.Equal(t, "/api/v4/projects/mesa%2Fmesa", gotPath)
}

func TestListPipelineJobsPaginates(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/1/pipelines/2/jobs", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("sort"))

		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			fmt.Fprint(w, "[")
			for i := 0; i < perPage; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"id": %d, "name": "job-%d", "status": "success"}`, i+1, i+1)
			}
			fmt.Fprint(w, "]")
		case "2":
			fmt.Fprint(w, `[{"id": 101, "name": "job-101", "status": "running"}]`)
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))

	jobs, err := client.ListPipelineJobs(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, jobs, perPage+1, "a short page ends the listing, nothing is truncated")
	assert.Equal(t, int64(101), jobs[perPage].ID)
}

func TestJobMutationEndpoints(t *testing.T) {
	var requests []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		fmt.Fprint(w, `{}`)
	}))

	ctx := context.Background()
	require.NoError(t, client.PlayJob(ctx, 1, 10))
	require.NoError(t, client.RetryJob(ctx, 1, 11))
	require.NoError(t, client.CancelJob(ctx, 1, 12))

	assert.Equal(t, []string{
		"POST /api/v4/projects/1/jobs/10/play",
		"POST /api/v4/projects/1/jobs/11/retry",
		"POST /api/v4/projects/1/jobs/12/cancel",
	}, requests)
}

func TestJobTraceReturnsRawText(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/1/jobs/5/trace", r.URL.Path)
		fmt.Fprint(w, "line one\nline two\n")
	}))

	trace, err := client.JobTrace(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", trace)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "403 Forbidden", http.StatusForbidden)
	}))

	err := client.PlayJob(context.Background(), 1, 99)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, 1, calls, "4xx failures are permanent")
}

func TestMissingJobIsATypedError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 Job Not Found", http.StatusNotFound)
	}))

	_, err := client.GetJob(context.Background(), 1, 99)
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "job", notFoundErr.Kind)
	assert.Equal(t, "99", notFoundErr.Ref)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id": 5, "name": "build", "status": "running"}`)
	}))
	t.Cleanup(server.Close)

	// A logger is attached so the retry attempts are logged, as in
	// production use.
	client := NewClient("secret",
		WithBaseURL(server.URL),
		WithRateLimit(1000),
		WithLogger(arbor.NewLogger()),
	)

	job, err := client.GetJob(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "each 5xx is retried until the attempt limit")
	assert.Equal(t, "build", job.Name)
}

func TestGraphQL(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/graphql", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"data": {"answer": 42}}`)
	}))

	var result struct {
		Answer int `json:"answer"`
	}
	err := client.GraphQL(context.Background(), "query { answer }", nil, &result)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Answer)
}

func TestGraphQLErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "field does not exist"}]}`)
	}))

	err := client.GraphQL(context.Background(), "query { nope }", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field does not exist")
}
