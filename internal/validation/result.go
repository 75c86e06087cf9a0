// Package validation checks a joined output against what its inputs and
// strategy predict.
package validation

import "fmt"

// Result contains the overall validation result.
type Result struct {
	IsCodecCorrect      bool
	IsDimensionsCorrect bool
	IsDurationCorrect   bool
	IsAudioCorrect      bool

	// Details
	CodecName          string
	ExpectedCodec      string
	ActualDimensions   *[2]uint32
	ExpectedDimensions *[2]uint32
	DimensionsMessage  string
	ActualDuration     float64
	ExpectedDuration   *float64
	DurationMessage    string
	AudioMessage       string
}

// ValidationStep represents a single validation check.
type ValidationStep struct {
	Name    string
	Passed  bool
	Details string
}

// IsValid returns true if all validation checks passed.
func (r *Result) IsValid() bool {
	return r.IsCodecCorrect &&
		r.IsDimensionsCorrect &&
		r.IsDurationCorrect &&
		r.IsAudioCorrect
}

// GetValidationSteps returns all validation steps with results.
func (r *Result) GetValidationSteps() []ValidationStep {
	return []ValidationStep{
		{
			Name:    "Video codec",
			Passed:  r.IsCodecCorrect,
			Details: formatCodecDetails(r.CodecName, r.ExpectedCodec, r.IsCodecCorrect),
		},
		{
			Name:    "Dimensions",
			Passed:  r.IsDimensionsCorrect,
			Details: r.DimensionsMessage,
		},
		{
			Name:    "Duration",
			Passed:  r.IsDurationCorrect,
			Details: r.DurationMessage,
		},
		{
			Name:    "Audio",
			Passed:  r.IsAudioCorrect,
			Details: r.AudioMessage,
		},
	}
}

// GetFailures returns descriptions of failed validation checks.
func (r *Result) GetFailures() []string {
	var failures []string
	for _, step := range r.GetValidationSteps() {
		if !step.Passed {
			failures = append(failures, step.Name+": "+step.Details)
		}
	}
	return failures
}

func formatCodecDetails(codec, expected string, passed bool) string {
	switch {
	case expected == "":
		return fmt.Sprintf("Output is %s", codec)
	case passed:
		return fmt.Sprintf("%s as expected", codec)
	default:
		return fmt.Sprintf("Expected %s, got %s", expected, codec)
	}
}
