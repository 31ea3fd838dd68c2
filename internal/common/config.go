package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	GitLab  GitLabConfig  `toml:"gitlab"`
	Monitor MonitorConfig `toml:"monitor"`
	Logging LoggingConfig `toml:"logging"`
}

type GitLabConfig struct {
	URL        string `toml:"url" validate:"required,url"`                      // Base URL of the GitLab instance
	Project    string `toml:"project" validate:"required"`                      // Default project path (namespace/name)
	TokenFile  string `toml:"token_file"`                                       // Token file path ("~" expanded)
	AuthMethod string `toml:"auth_method" validate:"oneof=private-token oauth"` // How the token is sent
	RateLimit  int    `toml:"rate_limit" validate:"min=1"`                      // API requests per second
}

type MonitorConfig struct {
	JobsPollInterval  string `toml:"jobs_poll_interval"`                         // e.g. "6s" - pipeline job poll cadence
	LogPollInterval   string `toml:"log_poll_interval"`                          // e.g. "10s" - log tail poll cadence
	CancelConcurrency int    `toml:"cancel_concurrency" validate:"min=1,max=32"` // Concurrent cancel requests
	PipelineWait      string `toml:"pipeline_wait"`                              // Max time to wait for a pipeline to appear ("0" = forever)
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                             // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Poll cadences match the remote scheduler's latency; only user-facing
// settings belong in cimon.toml.
func NewDefaultConfig() *Config {
	return &Config{
		GitLab: GitLabConfig{
			URL:        "https://gitlab.freedesktop.org",
			Project:    "mesa/mesa",
			TokenFile:  "~/.config/gitlab-token",
			AuthMethod: "private-token",
			RateLimit:  10,
		},
		Monitor: MonitorConfig{
			JobsPollInterval:  "6s",
			LogPollInterval:   "10s",
			CancelConcurrency: 6,
			PipelineWait:      "0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; CLI flags are applied by the caller and win over everything.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, value := range map[string]string{
		"monitor.jobs_poll_interval": c.Monitor.JobsPollInterval,
		"monitor.log_poll_interval":  c.Monitor.LogPollInterval,
		"monitor.pipeline_wait":      c.Monitor.PipelineWait,
	} {
		if _, err := parseWait(value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q: %w", name, value, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if url := os.Getenv("CIMON_GITLAB_URL"); url != "" {
		config.GitLab.URL = url
	}
	if project := os.Getenv("CIMON_GITLAB_PROJECT"); project != "" {
		config.GitLab.Project = project
	}
	if tokenFile := os.Getenv("CIMON_GITLAB_TOKEN_FILE"); tokenFile != "" {
		config.GitLab.TokenFile = tokenFile
	}
	if method := os.Getenv("CIMON_GITLAB_AUTH_METHOD"); method != "" {
		config.GitLab.AuthMethod = method
	}
	if rateLimit := os.Getenv("CIMON_GITLAB_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil {
			config.GitLab.RateLimit = rl
		}
	}

	if interval := os.Getenv("CIMON_JOBS_POLL_INTERVAL"); interval != "" {
		config.Monitor.JobsPollInterval = interval
	}
	if interval := os.Getenv("CIMON_LOG_POLL_INTERVAL"); interval != "" {
		config.Monitor.LogPollInterval = interval
	}
	if concurrency := os.Getenv("CIMON_CANCEL_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Monitor.CancelConcurrency = c
		}
	}
	if wait := os.Getenv("CIMON_PIPELINE_WAIT"); wait != "" {
		config.Monitor.PipelineWait = wait
	}

	if level := os.Getenv("CIMON_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CIMON_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// JobsInterval returns the parsed jobs poll interval.
func (c *Config) JobsInterval() time.Duration {
	return durationOrDefault(c.Monitor.JobsPollInterval, 6*time.Second)
}

// LogInterval returns the parsed log poll interval.
func (c *Config) LogInterval() time.Duration {
	return durationOrDefault(c.Monitor.LogPollInterval, 10*time.Second)
}

// PipelineWaitTimeout returns how long to wait for a pipeline to appear for
// a revision. Zero means wait forever.
func (c *Config) PipelineWaitTimeout() time.Duration {
	d, err := parseWait(c.Monitor.PipelineWait)
	if err != nil {
		return 0
	}
	return d
}

func durationOrDefault(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseWait accepts a duration string, with bare "0" meaning no timeout.
func parseWait(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
