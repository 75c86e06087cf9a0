package reporter

import "github.com/five82/splice/internal/progress"

// CompositeReporter fans out events to multiple reporters.
type CompositeReporter struct {
	reporters []Reporter
}

// NewCompositeReporter creates a composite reporter.
func NewCompositeReporter(reporters ...Reporter) *CompositeReporter {
	return &CompositeReporter{reporters: reporters}
}

func (c *CompositeReporter) JobStarted(info JobStartInfo) {
	for _, r := range c.reporters {
		r.JobStarted(info)
	}
}

func (c *CompositeReporter) Compatibility(summary CompatibilitySummary) {
	for _, r := range c.reporters {
		r.Compatibility(summary)
	}
}

func (c *CompositeReporter) Progress(snap progress.Snapshot) {
	for _, r := range c.reporters {
		r.Progress(snap)
	}
}

func (c *CompositeReporter) JobComplete(outcome JobOutcome) {
	for _, r := range c.reporters {
		r.JobComplete(outcome)
	}
}

func (c *CompositeReporter) Cancelled(message string) {
	for _, r := range c.reporters {
		r.Cancelled(message)
	}
}

func (c *CompositeReporter) Warning(message string) {
	for _, r := range c.reporters {
		r.Warning(message)
	}
}

func (c *CompositeReporter) Error(err ReporterError) {
	for _, r := range c.reporters {
		r.Error(err)
	}
}

func (c *CompositeReporter) Verbose(message string) {
	for _, r := range c.reporters {
		r.Verbose(message)
	}
}
