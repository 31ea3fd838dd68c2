package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePipelineURL(t *testing.T) {
	base := "https://gitlab.freedesktop.org"

	path, id, err := ParsePipelineURL(base, base+"/mesa/mesa/-/pipelines/123456")
	require.NoError(t, err)
	assert.Equal(t, "mesa/mesa", path)
	assert.Equal(t, int64(123456), id)

	_, _, err = ParsePipelineURL(base, "https://gitlab.example.com/mesa/mesa/-/pipelines/1")
	assert.Error(t, err, "foreign instance URLs are rejected")

	_, _, err = ParsePipelineURL(base, base+"/mesa/mesa/pipelines/1")
	assert.Error(t, err, "missing /-/ separator")

	_, _, err = ParsePipelineURL(base, base+"/mesa/mesa/-/pipelines/latest")
	assert.Error(t, err, "non-numeric pipeline id")
}

func TestWaitForPipeline(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "abc123", r.URL.Query().Get("sha"))
		if calls < 3 {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"id": 7, "sha": "abc123", "web_url": "https://ci/pipelines/7"}]`)
	}))

	pipeline, err := client.WaitForPipeline(context.Background(), 1, "abc123", time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pipeline.ID)
	assert.Equal(t, 3, calls)
}

func TestWaitForPipelineTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	_, err := client.WaitForPipeline(context.Background(), 1, "abc123", time.Millisecond, 5*time.Millisecond)
	assert.Error(t, err)
}

func TestReadToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "gitlab-token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("filetoken\n"), 0600))

	token, err := ReadToken("flagtoken", tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "flagtoken", token, "explicit flag wins over the file")

	token, err = ReadToken("", tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "filetoken", token, "file contents are trimmed")

	token, err = ReadToken("", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err, "a missing token file means anonymous access")
	assert.Empty(t, token)
}
