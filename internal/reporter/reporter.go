package reporter

import "github.com/five82/splice/internal/progress"

// Reporter defines the interface for job reporting.
type Reporter interface {
	JobStarted(info JobStartInfo)
	Compatibility(summary CompatibilitySummary)
	Progress(snap progress.Snapshot)
	JobComplete(outcome JobOutcome)
	Cancelled(message string)
	Warning(message string)
	Error(err ReporterError)
	Verbose(message string)
}

// Observer adapts r to a progress observer.
func Observer(r Reporter) progress.Observer {
	return func(s progress.Snapshot) {
		r.Progress(s)
	}
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) JobStarted(JobStartInfo)            {}
func (NullReporter) Compatibility(CompatibilitySummary) {}
func (NullReporter) Progress(progress.Snapshot)         {}
func (NullReporter) JobComplete(JobOutcome)             {}
func (NullReporter) Cancelled(string)                   {}
func (NullReporter) Warning(string)                     {}
func (NullReporter) Error(ReporterError)                {}
func (NullReporter) Verbose(string)                     {}
