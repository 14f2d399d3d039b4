// internal/report/console.go
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"gitlab-stats/internal/syncer"
)

// Console prints run reports as a colored table.
type Console struct {
	Out io.Writer
}

// Write outputs the per-project results of a sync pass.
func (c *Console) Write(report *syncer.RunReport) error {
	title := color.New(color.FgGreen).Add(color.Underline)
	if _, err := title.Fprintf(c.Out, "Sync Results (%d projects in %s)\n",
		len(report.Projects), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Project\tSince\tFetched\tRecords\tStatus")
	for _, p := range report.Projects {
		status := color.GreenString("ok")
		if p.Err != nil {
			status = color.RedString("error: %s", p.Error)
		} else if p.Records == 0 {
			status = color.YellowString("up to date")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			p.FullName,
			p.Since.Format(time.RFC3339),
			p.Fetched,
			p.Records,
			status,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := color.New(color.FgCyan)
	if report.Failed() > 0 {
		summary = color.New(color.FgRed)
	}
	_, err := summary.Fprintf(c.Out, "Wrote %d records, %d projects failed\n", report.Records(), report.Failed())
	return err
}
