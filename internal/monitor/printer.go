package monitor

import (
	"fmt"
	"sync"

	"github.com/muesli/termenv"

	"cimon/internal/models"
)

// statusColors maps job statuses to their display color. Statuses not in
// the map render uncolored.
var statusColors = map[models.JobStatus]termenv.Color{
	models.JobStatusRunning:  termenv.ANSIBlue,
	models.JobStatusSuccess:  termenv.ANSIGreen,
	models.JobStatusFailed:   termenv.ANSIRed,
	models.JobStatusCanceled: termenv.ANSIMagenta,
}

// Printer renders human-readable monitor output. All writes go through one
// mutex because cancel workers print concurrently with the control loop.
type Printer struct {
	mu  sync.Mutex
	out *termenv.Output
}

// NewPrinter creates a printer on the given terminal output.
func NewPrinter(out *termenv.Output) *Printer {
	return &Printer{out: out}
}

// link renders the job name as an OSC 8 hyperlink to its web page.
func (p *Printer) link(job models.Job) string {
	return p.out.Hyperlink(job.WebURL, job.Name)
}

func (p *Printer) colored(status models.JobStatus, text string) string {
	color, ok := statusColors[status]
	if !ok {
		return text
	}
	return p.out.String(text).Foreground(color).String()
}

// Status prints a routine job status line. Canceled jobs are suppressed to
// keep the output focused on jobs that still matter.
func (p *Printer) Status(job models.Job) {
	if job.Status == models.JobStatusCanceled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.colored(job.Status, fmt.Sprintf("🞋 job %s :: %s", p.link(job), job.Status)))
}

// StatusChange prints a job status transition line.
func (p *Printer) StatusChange(job models.Job) {
	if job.Status == models.JobStatusCanceled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.colored(job.Status, fmt.Sprintf("🗘 job %s has new status: %s", p.link(job), job.Status)))
}

// Enabled reports that a manual job was played, flagged as either the
// target itself or one of its dependencies.
func (p *Printer) Enabled(job models.Job, target bool) {
	glyph := "(dependency)"
	if target {
		glyph = "🞋 "
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.out.String(fmt.Sprintf("%s job %s manually enabled", glyph, job.Name)).Foreground(termenv.ANSIMagenta).String())
}

// Retried reports that a completed job was re-queued (stress mode).
func (p *Printer) Retried(job models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.out.String(fmt.Sprintf("↻ job %s manually enabled", job.Name)).Foreground(termenv.ANSIMagenta).String())
}

// Canceling reports a cancel request as it is issued. Several of these can
// land on one line; Flush terminates it.
func (p *Printer) Canceling(job models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "♲ %s ", job.Name)
}

// Flush ends a line of cancel notices.
func (p *Printer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
}

// StressTally prints the running stress-mode counters.
func (p *Printer) StressTally(succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "∑ succ: %d; fail: %d\n", succeeded, failed)
}

// Divider separates poll iterations.
func (p *Printer) Divider() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "---------------------------------")
}

// Line prints one raw log line.
func (p *Printer) Line(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// Finished prints the distinguished completion notice for a streamed job.
func (p *Printer) Finished(job models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.colored(models.JobStatusSuccess, fmt.Sprintf("Job finished: %s", job.WebURL)))
}

// Countdown overwrites the current line with the remaining wait time.
func (p *Printer) Countdown(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "⏲  %d seconds\r", seconds)
}
