package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	out    io.Writer
	errOut io.Writer

	mu         sync.Mutex
	bar        *progressbar.ProgressBar
	maxPercent uint8
	lastPhase  progress.Phase
	lastMsg    string

	cyan    *color.Color
	green   *color.Color
	yellow  *color.Color
	red     *color.Color
	magenta *color.Color
	bold    *color.Color
	faint   *color.Color
}

// NewTerminalReporter creates a terminal reporter writing text to stdout
// and the progress bar and errors to stderr.
func NewTerminalReporter() *TerminalReporter {
	return NewTerminalReporterWithWriters(os.Stdout, os.Stderr)
}

// NewTerminalReporterWithWriters creates a terminal reporter with custom
// writers.
func NewTerminalReporterWithWriters(out, errOut io.Writer) *TerminalReporter {
	return &TerminalReporter{
		out:     out,
		errOut:  errOut,
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
		faint:   color.New(color.Faint),
	}
}

func (r *TerminalReporter) finishBar() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
	r.maxPercent = 0
}

// printLabel prints a bold label with fixed width padding followed by a value.
// Width is applied to the plain text before styling to ensure proper alignment.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", width, label)
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) section(title string) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = r.cyan.Fprintln(r.out, title)
}

func (r *TerminalReporter) JobStarted(info JobStartInfo) {
	r.section("INPUTS")
	for i, in := range info.Inputs {
		_, _ = fmt.Fprintf(r.out, "  %d. %s\n", i+1, util.GetFilename(in))
	}
	r.printLabel(9, "Output:", info.Output)
	r.printLabel(9, "Executor:", info.Executor)
}

func (r *TerminalReporter) Compatibility(summary CompatibilitySummary) {
	r.section("COMPATIBILITY")
	if summary.Compatible {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.green.Sprint("✓ Inputs share codec, resolution, frame rate and audio codec"))
	} else {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.yellow.Sprintf("✗ %d issue(s) found", len(summary.Issues)))
		for _, issue := range summary.Issues {
			_, _ = fmt.Fprintf(r.out, "  - %s\n", issue)
		}
	}
	if summary.Strategy != "" {
		r.printLabel(9, "Strategy:", summary.Strategy)
	}
}

// Progress prints a line per message outside the encoding phase and
// drives a progress bar during it. The bar never moves backwards.
func (r *TerminalReporter) Progress(snap progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Phase != progress.PhaseEncoding {
		r.finishBar()
		switch snap.Phase {
		case progress.PhaseIdle, progress.PhaseError, progress.PhaseComplete:
			// Reported through Cancelled, Error and JobComplete.
			r.lastPhase = snap.Phase
			return
		}
		if snap.Phase != r.lastPhase {
			r.section(strings.ToUpper(string(snap.Phase)))
			r.lastPhase = snap.Phase
		}
		if snap.Message != r.lastMsg {
			_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.magenta.Sprint("›"), snap.Message)
			r.lastMsg = snap.Message
		}
		return
	}

	if r.bar == nil {
		r.section("ENCODING")
		r.lastPhase = snap.Phase
		r.bar = progressbar.NewOptions64(
			100,
			progressbar.OptionSetDescription(""),
			progressbar.OptionSetWidth(40),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWriter(r.errOut),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "Joining [",
				BarEnd:        "]",
			}),
		)
	}

	if snap.Percent >= r.maxPercent {
		r.maxPercent = snap.Percent
		_ = r.bar.Set64(int64(snap.Percent))
	}

	desc := snap.Message
	if snap.ETASeconds != nil {
		desc = fmt.Sprintf("%s, eta %s", desc, util.FormatDuration(float64(*snap.ETASeconds)))
	}
	r.bar.Describe(desc)
	r.lastMsg = snap.Message
}

func (r *TerminalReporter) JobComplete(outcome JobOutcome) {
	r.mu.Lock()
	r.finishBar()
	r.mu.Unlock()

	r.section("RESULTS")
	r.printLabel(6, "Output:", r.bold.Sprint(outcome.Output))
	if outcome.OutputSize > 0 {
		r.printLabel(6, "Size:", util.FormatBytes(outcome.OutputSize))
	}
	r.printLabel(6, "Time:", util.FormatDuration(outcome.TotalTime.Seconds()))
	_, _ = fmt.Fprintf(r.out, "\n%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("✓"), r.bold.Sprint("Concatenation complete"))
}

func (r *TerminalReporter) Cancelled(message string) {
	r.mu.Lock()
	r.finishBar()
	r.mu.Unlock()

	_, _ = fmt.Fprintln(r.out)
	_, _ = r.yellow.Fprintf(r.out, "CANCELLED %s\n", message)
}

func (r *TerminalReporter) Warning(message string) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = r.yellow.Fprintf(r.out, "WARN: %s\n", message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	r.mu.Lock()
	r.finishBar()
	r.mu.Unlock()

	_, _ = fmt.Fprintln(r.errOut)
	_, _ = r.red.Fprintf(r.errOut, "ERROR %s\n", err.Title)
	_, _ = fmt.Fprintf(r.errOut, "  %s\n", err.Message)
	if err.Context != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Suggestion: %s\n", err.Suggestion)
	}
}

func (r *TerminalReporter) Verbose(message string) {
	_, _ = fmt.Fprintf(r.out, "  %s\n", r.faint.Sprint(message))
}
