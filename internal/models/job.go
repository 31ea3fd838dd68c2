// -----------------------------------------------------------------------
// Pipeline Job - Remote job snapshot and status enumeration
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus is the status of a CI job as reported by the remote service.
type JobStatus string

const (
	JobStatusCreated  JobStatus = "created"
	JobStatusRunning  JobStatus = "running"
	JobStatusSuccess  JobStatus = "success"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
	JobStatusManual   JobStatus = "manual"
	JobStatusPending  JobStatus = "pending"
	JobStatusSkipped  JobStatus = "skipped"
)

// Completed reports whether the job has finished executing. Canceled and
// skipped jobs never executed to completion and are deliberately excluded:
// the log streamer keeps tailing until the job actually ran to an end state.
func (s JobStatus) Completed() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Settled reports whether the job is past the point where cancelling it
// would do anything.
func (s JobStatus) Settled() bool {
	switch s {
	case JobStatusCanceled, JobStatusSuccess, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// Job is a read-mostly snapshot of a remote CI job. Identity (ID) is
// immutable; Status reflects the most recent poll.
type Job struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Stage     string    `json:"stage"`
	Status    JobStatus `json:"status"`
	WebURL    string    `json:"web_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Pipeline is a collection of jobs for one revision.
type Pipeline struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	SHA       string `json:"sha"`
	Status    string `json:"status"`
	WebURL    string `json:"web_url"`
}

// Project identifies a remote project.
type Project struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}
