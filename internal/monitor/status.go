package monitor

import (
	"regexp"

	"cimon/internal/models"
)

// ----- Job Classification -----

// Class labels a pipeline job relative to the monitored target.
type Class int

const (
	// ClassOther is any job that is neither targeted nor required by one.
	ClassOther Class = iota
	// ClassDependency is a job the target needs, directly or transitively.
	ClassDependency
	// ClassTarget is a job whose name matches the target pattern.
	ClassTarget
)

// classify labels a job by name. Pattern matching is anchored at the start
// of the name, so "build" matches "build-x86" but not "pre-build".
func classify(name string, target *regexp.Regexp, deps map[string]struct{}) Class {
	if target != nil && target.MatchString(name) {
		return ClassTarget
	}
	if _, ok := deps[name]; ok {
		return ClassDependency
	}
	return ClassOther
}

// CompileTarget compiles a user-supplied job name pattern with the
// anchored-prefix semantics classify expects.
func CompileTarget(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")")
}

// ----- Status History -----

// history remembers the last status seen per job id.
type history map[int64]models.JobStatus

// record stores the status and reports whether it differs from the last
// observation. The value is rewritten even when unchanged; callers use the
// return value only to pick between the changed and unchanged notices.
func (h history) record(jobID int64, status models.JobStatus) bool {
	prev, seen := h[jobID]
	h[jobID] = status
	return !seen || prev != status
}

// single reports whether exactly one job has been observed, returning its id.
func (h history) single() (int64, bool) {
	if len(h) != 1 {
		return 0, false
	}
	for id := range h {
		return id, true
	}
	return 0, false
}

// anyOf reports whether any recorded status is in the given set.
func (h history) anyOf(statuses ...models.JobStatus) bool {
	for _, got := range h {
		for _, want := range statuses {
			if got == want {
				return true
			}
		}
	}
	return false
}

// allOf reports whether every recorded status is in the given set. An
// empty history vacuously satisfies any set.
func (h history) allOf(statuses ...models.JobStatus) bool {
	for _, got := range h {
		ok := false
		for _, want := range statuses {
			if got == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
