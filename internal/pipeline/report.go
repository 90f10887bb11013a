package pipeline

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hearalert/soundbank/internal/assemble"
	"github.com/hearalert/soundbank/internal/balance"
	"github.com/hearalert/soundbank/internal/run"
)

// CategoryReport is the outcome of one category job.
type CategoryReport struct {
	Category string
	Target   int
	// Pool is the number of collected source clips.
	Pool int
	// Result is nil when the job failed.
	Result *balance.Result
	// Warnings counts unreadable files seen while collecting and balancing.
	Warnings int
	Err      error
	Elapsed  time.Duration
}

// Summary flattens the report for the run record.
func (c CategoryReport) Summary() run.CategoryResult {
	out := run.CategoryResult{
		Category:  c.Category,
		Target:    c.Target,
		Warnings:  c.Warnings,
		Shortfall: c.Target,
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	if r := c.Result; r != nil {
		out.Achieved = r.Achieved
		out.Original = r.Original
		out.Augmented = r.Augmented
		out.Synthetic = r.Synthetic
		out.Reused = r.Reused
		out.Duplicates = r.Duplicates
		out.Shortfall = r.Shortfall
	}
	return out
}

// Report is the outcome of a run.
type Report struct {
	RunID string
	Seed  uint64
	// Categories is in catalog order.
	Categories  []CategoryReport
	Manifest    *assemble.Manifest
	ManifestURL string
	// Swept counts partial files removed before the run started.
	Swept int
}

// Failed returns the number of category jobs that returned an error.
func (r *Report) Failed() int {
	n := 0
	for _, c := range r.Categories {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Shortfall returns the total number of clips missing across categories.
func (r *Report) Shortfall() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Summary().Shortfall
	}
	return n
}

// WriteSummary renders the per-category table.
func (r *Report) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTARGET\tACHIEVED\tORIGINAL\tAUGMENTED\tSYNTHETIC\tREUSED\tWARNINGS\tSHORTFALL\tERROR\t")

	var total run.CategoryResult
	for _, c := range r.Categories {
		s := c.Summary()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			s.Category, s.Target, s.Achieved, s.Original, s.Augmented, s.Synthetic, s.Reused, s.Warnings, s.Shortfall, s.Error)
		total.Target += s.Target
		total.Achieved += s.Achieved
		total.Original += s.Original
		total.Augmented += s.Augmented
		total.Synthetic += s.Synthetic
		total.Reused += s.Reused
		total.Warnings += s.Warnings
		total.Shortfall += s.Shortfall
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\t\n",
		total.Target, total.Achieved, total.Original, total.Augmented, total.Synthetic, total.Reused, total.Warnings, total.Shortfall)

	if err := tw.Flush(); err != nil {
		return err
	}
	if m := r.Manifest; m != nil {
		c := m.Counts()
		_, err := fmt.Fprintf(w, "\nmanifest: %d files (train %d, validation %d, test %d)\n",
			m.Metadata.TotalFiles, c.Train, c.Validation, c.Test)
		return err
	}
	return nil
}
