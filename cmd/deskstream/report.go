package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ajitpratap0/deskstream/internal/pipeline"
	"github.com/fatih/color"
)

// printReport writes a human summary of one run.
func printReport(w io.Writer, r pipeline.RunReport) {
	var status *color.Color
	switch r.Status {
	case pipeline.StatusCompleted:
		status = color.New(color.FgGreen, color.Bold)
	case pipeline.StatusLimitReached:
		status = color.New(color.FgYellow, color.Bold)
	default:
		status = color.New(color.FgRed, color.Bold)
	}
	label := color.New(color.FgCyan)

	status.Fprintf(w, "%s %s\n", r.Job, r.Status)
	if r.RunID != "" {
		label.Fprint(w, "  run:       ")
		fmt.Fprintln(w, r.RunID)
	}

	label.Fprint(w, "  processed: ")
	fmt.Fprintf(w, "%d", r.Processed)
	if r.Job == pipeline.JobBackfill && r.TotalProcessed != r.Processed {
		fmt.Fprintf(w, " (%d in total)", r.TotalProcessed)
	}
	fmt.Fprintln(w)

	if r.Job == pipeline.JobIncremental {
		label.Fprint(w, "  upserted:  ")
		fmt.Fprintf(w, "%d inserted, %d updated\n", r.Inserted, r.Updated)
	}
	if r.Skipped > 0 || r.Errors > 0 {
		label.Fprint(w, "  rejected:  ")
		fmt.Fprintf(w, "%d skipped, %d row errors\n", r.Skipped, r.Errors)
	}

	label.Fprint(w, "  position:  ")
	fmt.Fprintln(w, r.Position)
	if !r.FinishedAt.IsZero() {
		label.Fprint(w, "  duration:  ")
		fmt.Fprintln(w, r.Duration().Round(time.Millisecond))
	}
	if r.Err != nil {
		color.New(color.FgRed).Fprintf(w, "  error:     %v\n", r.Err)
	}
}
