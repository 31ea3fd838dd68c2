package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cimon.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.freedesktop.org", config.GitLab.URL)
	assert.Equal(t, "mesa/mesa", config.GitLab.Project)
	assert.Equal(t, "private-token", config.GitLab.AuthMethod)
	assert.Equal(t, 6, config.Monitor.CancelConcurrency)
	assert.Equal(t, 6*time.Second, config.JobsInterval())
	assert.Equal(t, 10*time.Second, config.LogInterval())
	assert.Equal(t, time.Duration(0), config.PipelineWaitTimeout(), "no timeout by default")
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[gitlab]
url = "https://gitlab.example.com"
project = "group/repo"

[monitor]
jobs_poll_interval = "2s"
cancel_concurrency = 3
pipeline_wait = "10m"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.example.com", config.GitLab.URL)
	assert.Equal(t, "group/repo", config.GitLab.Project)
	assert.Equal(t, 2*time.Second, config.JobsInterval())
	assert.Equal(t, 3, config.Monitor.CancelConcurrency)
	assert.Equal(t, 10*time.Minute, config.PipelineWaitTimeout())
	assert.Equal(t, "private-token", config.GitLab.AuthMethod, "unset keys keep their defaults")
}

func TestLaterFilesWin(t *testing.T) {
	first := writeConfig(t, "[gitlab]\nproject = \"group/first\"\n")
	second := writeConfig(t, "[gitlab]\nproject = \"group/second\"\n")

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, "group/second", config.GitLab.Project)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[gitlab]\nproject = \"group/file\"\n")
	t.Setenv("CIMON_GITLAB_PROJECT", "group/env")
	t.Setenv("CIMON_CANCEL_CONCURRENCY", "12")
	t.Setenv("CIMON_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "group/env", config.GitLab.Project)
	assert.Equal(t, 12, config.Monitor.CancelConcurrency)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad url":         "[gitlab]\nurl = \"not a url\"\n",
		"bad auth method": "[gitlab]\nauth_method = \"cookie\"\n",
		"zero workers":    "[monitor]\ncancel_concurrency = 0\n",
		"bad level":       "[logging]\nlevel = \"loud\"\n",
		"bad interval":    "[monitor]\njobs_poll_interval = \"soon\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromFiles(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestMissingFileFails(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
