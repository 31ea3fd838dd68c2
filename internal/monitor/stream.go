package monitor

import (
	"context"
	"strings"
	"time"
)

// StreamLog tails a job's log to the printer until the job completes. The
// remote API has no incremental log fetch, so the whole trace is refetched
// every poll and only lines past the printed count are emitted.
func StreamLog(ctx context.Context, service Service, jobID int64, interval time.Duration, printer *Printer) error {
	printed := 0
	for {
		job, err := service.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		trace, err := service.JobTrace(ctx, jobID)
		if err != nil {
			return err
		}

		lines := splitLines(trace)
		if printed > len(lines) {
			// Trace shrank, likely a job restart. Start over.
			printed = 0
		}
		for _, line := range lines[printed:] {
			printer.Line(line)
		}
		printed = len(lines)

		if job.Status.Completed() {
			printer.Finished(*job)
			return nil
		}

		if err := prettyWait(ctx, printer, interval); err != nil {
			return err
		}
	}
}

// splitLines breaks text on line boundaries without producing a trailing
// empty line for newline-terminated text.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
