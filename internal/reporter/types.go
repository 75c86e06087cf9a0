// Package reporter renders job events for people (terminal) and programs
// (NDJSON).
package reporter

import "time"

// JobStartInfo describes a job about to run.
type JobStartInfo struct {
	Inputs   []string
	Output   string
	Executor string
}

// CompatibilitySummary is the outcome of a compatibility check.
type CompatibilitySummary struct {
	Inputs     []string
	Compatible bool
	Issues     []string
	// Strategy is the path a job over these inputs would take.
	Strategy string
}

// JobOutcome contains final job results.
type JobOutcome struct {
	Output     string
	OutputSize uint64
	TotalTime  time.Duration
}

// ReporterError contains error information.
type ReporterError struct {
	Title      string
	Message    string
	Context    string
	Suggestion string
}
