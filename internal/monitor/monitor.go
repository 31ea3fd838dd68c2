// Package monitor drives a pipeline towards a target job: manual jobs on
// the target's dependency path are played, unrelated jobs are cancelled,
// and the loop ends once the target's fate is known.
package monitor

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"cimon/internal/common"
	"cimon/internal/models"
)

// Service is the remote pipeline surface the monitor drives. It is
// satisfied by gitlab.PipelineService.
type Service interface {
	ListPipelineJobs(ctx context.Context, pipelineID int64) ([]models.Job, error)
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	PlayJob(ctx context.Context, jobID int64) error
	RetryJob(ctx context.Context, jobID int64) error
	CancelJob(ctx context.Context, jobID int64) error
	JobTrace(ctx context.Context, jobID int64) (string, error)
}

// Outcome is the terminal result of a monitoring run. Either Handoff is
// set and JobID names the single running target job to stream, or
// ExitCode carries the process result.
type Outcome struct {
	Handoff  bool
	JobID    int64
	ExitCode int
}

// Options configures a Monitor.
type Options struct {
	Service           Service
	PipelineID        int64
	Target            *regexp.Regexp
	Dependencies      map[string]struct{}
	ForceManual       bool
	Stress            bool
	JobsInterval      time.Duration
	CancelConcurrency int
	Printer           *Printer
	Logger            arbor.ILogger
}

// Monitor owns the poll/classify/dispatch/evaluate cycle for one pipeline.
// All state lives on the instance; a Monitor is good for one Run.
type Monitor struct {
	service       Service
	pipelineID    int64
	target        *regexp.Regexp
	deps          map[string]struct{}
	forceManual   bool
	stress        bool
	interval      time.Duration
	cancelWorkers int
	printer       *Printer
	logger        arbor.ILogger

	targetHistory history
	otherHistory  history
	stressSucc    int
	stressFail    int
}

// New creates a Monitor for one run over the given pipeline.
func New(opts Options) *Monitor {
	workers := opts.CancelConcurrency
	if workers < 1 {
		workers = 6
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Monitor{
		service:       opts.Service,
		pipelineID:    opts.PipelineID,
		target:        opts.Target,
		deps:          opts.Dependencies,
		forceManual:   opts.ForceManual,
		stress:        opts.Stress,
		interval:      opts.JobsInterval,
		cancelWorkers: workers,
		printer:       opts.Printer,
		logger:        logger,
		targetHistory: make(history),
		otherHistory:  make(history),
	}
}

// Run polls the pipeline until a terminal condition is reached. In stress
// mode the loop never terminates on its own; cancelling ctx is the only
// way out, reported as the context's error.
func (m *Monitor) Run(ctx context.Context) (Outcome, error) {
	for {
		jobs, err := m.service.ListPipelineJobs(ctx, m.pipelineID)
		if err != nil {
			return Outcome{}, err
		}

		var toCancel []models.Job
		for _, job := range jobs {
			if err := m.dispatch(ctx, job, &toCancel); err != nil {
				return Outcome{}, err
			}
		}

		if m.target != nil {
			m.cancelAll(ctx, toCancel)
		}

		if m.stress {
			m.printer.StressTally(m.stressSucc, m.stressFail)
			if err := prettyWait(ctx, m.printer, m.interval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		m.printer.Divider()

		if outcome, done := m.evaluate(); done {
			return outcome, nil
		}

		if err := prettyWait(ctx, m.printer, m.interval); err != nil {
			return Outcome{}, err
		}
	}
}

// dispatch handles one polled job: play or retry target jobs, play manual
// dependencies, and mark unrelated live jobs for cancellation. Play and
// retry failures abort the run; the next poll would only repeat them.
func (m *Monitor) dispatch(ctx context.Context, job models.Job, toCancel *[]models.Job) error {
	if classify(job.Name, m.target, m.deps) == ClassTarget {
		if m.forceManual && job.Status == models.JobStatusManual {
			if err := m.service.PlayJob(ctx, job.ID); err != nil {
				return err
			}
			m.printer.Enabled(job, true)
		}

		if m.stress && job.Status.Completed() {
			if job.Status == models.JobStatusSuccess {
				m.stressSucc++
			} else {
				m.stressFail++
			}
			if err := m.service.RetryJob(ctx, job.ID); err != nil {
				return err
			}
			m.printer.Retried(job)
		}

		if m.targetHistory.record(job.ID, job.Status) {
			m.printer.StatusChange(job)
		} else {
			m.printer.Status(job)
		}
		return nil
	}

	if m.otherHistory.record(job.ID, job.Status) {
		m.printer.StatusChange(job)
	}

	if _, isDep := m.deps[job.Name]; isDep {
		if job.Status == models.JobStatusManual {
			if err := m.service.PlayJob(ctx, job.ID); err != nil {
				return err
			}
			m.printer.Enabled(job, false)
		}
	} else if m.target != nil && !job.Status.Settled() {
		*toCancel = append(*toCancel, job)
	}
	return nil
}

// cancelAll issues cancel requests through a bounded worker pool and waits
// for all of them before returning. Individual failures are logged and
// dropped; a job that stayed alive is re-marked on the next poll.
func (m *Monitor) cancelAll(ctx context.Context, jobs []models.Job) {
	if len(jobs) == 0 {
		return
	}

	sem := make(chan struct{}, m.cancelWorkers)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job models.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.service.CancelJob(ctx, job.ID); err != nil {
				m.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to cancel job")
				return
			}
			m.printer.Canceling(job)
		}(job)
	}
	wg.Wait()
	m.printer.Flush()
}

// evaluate inspects the target history and decides whether the run is
// over. Rule order matters: a lone running target hands off to log
// streaming, any failed or canceled target beats an otherwise clean set,
// and a set of only success and manual statuses counts as success. An
// empty history is a success: nothing targeted means nothing to wait for.
func (m *Monitor) evaluate() (Outcome, bool) {
	if id, ok := m.targetHistory.single(); ok && m.targetHistory[id] == models.JobStatusRunning {
		return Outcome{Handoff: true, JobID: id}, true
	}
	if m.targetHistory.anyOf(models.JobStatusFailed, models.JobStatusCanceled) {
		return Outcome{ExitCode: 1}, true
	}
	if m.targetHistory.allOf(models.JobStatusSuccess, models.JobStatusManual) {
		return Outcome{ExitCode: 0}, true
	}
	return Outcome{}, false
}

// prettyWait sleeps for the given duration, overwriting one console line
// with a per-second countdown. Returns early with ctx.Err on cancellation.
func prettyWait(ctx context.Context, printer *Printer, d time.Duration) error {
	for remaining := int(d.Seconds()); remaining > 0; remaining-- {
		printer.Countdown(remaining)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return ctx.Err()
}
