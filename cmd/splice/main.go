// Package main provides the CLI entry point for Splice.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/five82/splice"
	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/discovery"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/executor"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/reporter"
	"github.com/five82/splice/internal/sandbox"
	"github.com/five82/splice/internal/strategy"
	"github.com/five82/splice/internal/util"
)

const (
	appName    = "splice"
	appVersion = "0.1.0"

	// staleTempAge is how old leftover temp files must be before startup
	// removes them.
	staleTempAge = 24 * time.Hour

	// exitCancelled is the conventional exit status after SIGINT.
	exitCancelled = 130
)

// globalArgs holds flags shared by every command.
type globalArgs struct {
	envFile string
	logDir  string
	verbose bool
	noLog   bool
	sandbox bool
	tempDir string
	crf     uint8
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if errors.IsCancelled(err) {
			return exitCancelled
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var ga globalArgs

	root := &cobra.Command{
		Use:           appName,
		Short:         "Join video files with FFmpeg",
		Long:          "Splice joins video files in order. Inputs that share codec, resolution, frame rate and audio codec are stream copied; anything else is re-encoded to H.264/AAC.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&ga.envFile, "env-file", ".env", "Read SPLICE_* settings from this file if it exists")
	pf.StringVarP(&ga.logDir, "log-dir", "l", "", "Log directory (defaults to <temp dir>/splice_logs)")
	pf.BoolVarP(&ga.verbose, "verbose", "v", false, "Enable verbose output for troubleshooting")
	pf.BoolVar(&ga.noLog, "no-log", false, "Disable log file creation")
	pf.BoolVar(&ga.sandbox, "sandbox", false, "Run the engine against a private scratch copy of the inputs")
	pf.StringVar(&ga.tempDir, "temp-dir", "", "Directory for concat lists and scratch space")
	pf.Uint8Var(&ga.crf, "crf", 0, fmt.Sprintf("CRF used when re-encoding (0-%d). Default: %d", config.MaxCRF, config.DefaultVideoCRF))

	root.AddCommand(
		newConcatCmd(&ga, stdout, stderr),
		newCheckCmd(&ga, stdout, stderr),
		newServeCmd(&ga),
		newVersionCmd(stdout),
	)
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "%s version %s\n", appName, appVersion)
		},
	}
}

// concatArgs holds the parsed arguments for the concat command.
type concatArgs struct {
	dir    string
	output string
	json   bool
}

func newConcatCmd(ga *globalArgs, stdout, stderr io.Writer) *cobra.Command {
	var ca concatArgs
	cmd := &cobra.Command{
		Use:   "concat [flags] <input>...",
		Short: "Join video files into one",
		Example: `  splice concat a.mp4 b.mp4 c.mp4 -o joined.mp4
  splice concat --dir ./clips -o ./clips/all.mp4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeConcat(cmd, ga, ca, args, stdout, stderr)
		},
	}
	cmd.Flags().StringVarP(&ca.dir, "dir", "d", "", "Join every video file in this directory, in filename order")
	cmd.Flags().StringVarP(&ca.output, "output", "o", "", "Output file or directory (defaults to <first input>_joined next to it)")
	cmd.Flags().BoolVar(&ca.json, "json", false, "Emit NDJSON events instead of terminal output")
	return cmd
}

// checkArgs holds the parsed arguments for the check command.
type checkArgs struct {
	dir  string
	json bool
}

func newCheckCmd(ga *globalArgs, stdout, stderr io.Writer) *cobra.Command {
	var ca checkArgs
	cmd := &cobra.Command{
		Use:   "check [flags] <input>...",
		Short: "Report whether inputs can be joined without re-encoding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeCheck(cmd, ga, ca, args, stdout, stderr)
		},
	}
	cmd.Flags().StringVarP(&ca.dir, "dir", "d", "", "Check every video file in this directory, in filename order")
	cmd.Flags().BoolVar(&ca.json, "json", false, "Emit NDJSON events instead of terminal output")
	return cmd
}

// loadConfig reads the env file and environment, then applies flag overrides.
func loadConfig(cmd *cobra.Command, ga *globalArgs) (*config.Config, error) {
	cfg, err := config.Load(ga.envFile)
	if err != nil {
		return nil, err
	}
	if ga.tempDir != "" {
		cfg.TempDir = ga.tempDir
	}
	if cmd.Flags().Changed("crf") {
		cfg.VideoCRF = ga.crf
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging points the global logger at a run log file. Without one,
// CLI runs stay quiet so log lines do not interleave with the reporter.
func setupLogging(ga *globalArgs, cfg *config.Config) (*logging.RunLog, error) {
	logDir := ga.logDir
	if logDir == "" {
		logDir = filepath.Join(cfg.GetTempDir(), "splice_logs")
	}
	runLog, err := logging.SetupFile(logDir, ga.verbose, ga.noLog)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	if runLog != nil {
		logging.SetGlobal(runLog.Logger())
	} else {
		logging.SetGlobal(logging.Discard())
	}
	return runLog, nil
}

// newReporter picks NDJSON output when asked for or when stdout is not a
// terminal.
func newReporter(jsonOut bool, stdout, stderr io.Writer) reporter.Reporter {
	if jsonOut || !isTerminal(stdout) {
		return reporter.NewJSONReporterWithWriter(stdout)
	}
	return reporter.NewTerminalReporterWithWriters(stdout, stderr)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveInputs returns the files named on the command line, or the video
// files in dir. Exactly one of the two must be given.
func resolveInputs(dir string, args []string) ([]string, error) {
	switch {
	case dir != "" && len(args) > 0:
		return nil, errors.NewInvalidInputError("use either --dir or input files, not both")
	case dir != "":
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.NewPathError(fmt.Sprintf("invalid directory: %s", dir))
		}
		result, err := discovery.FindVideoFiles(abs)
		if err != nil {
			return nil, err
		}
		return result.Files, nil
	case len(args) == 0:
		return nil, errors.NewInvalidInputError("no input files provided")
	}

	inputs := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, errors.NewPathError(fmt.Sprintf("invalid input path: %s", a))
		}
		if !util.FileExists(abs) {
			return nil, errors.NewPathError(fmt.Sprintf("input file does not exist: %s", a))
		}
		inputs = append(inputs, abs)
	}
	return inputs, nil
}

// cleanupStaleTemp removes concat lists and scratch directories left by
// runs that did not exit cleanly.
func cleanupStaleTemp(cfg *config.Config) {
	for _, prefix := range []string{executor.ManifestPrefix, sandbox.ScratchPrefix} {
		removed, err := util.CleanupStaleTempFiles(cfg.GetTempDir(), prefix, staleTempAge)
		if err != nil {
			logging.Warn("failed to clean stale temp files", "prefix", prefix, "error", err)
			continue
		}
		if removed > 0 {
			logging.Info("removed stale temp files", "prefix", prefix, "count", removed)
		}
	}
}

func newMerger(ga *globalArgs, cfg *config.Config, rep reporter.Reporter) (*splice.Merger, error) {
	opts := []splice.Option{
		splice.WithConfig(cfg),
		splice.WithReporter(rep),
		splice.WithLogger(logging.Global()),
	}
	if ga.sandbox {
		opts = append(opts, splice.WithSandbox())
	}
	return splice.New(opts...)
}

func executeConcat(cmd *cobra.Command, ga *globalArgs, ca concatArgs, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd, ga)
	if err != nil {
		return err
	}
	runLog, err := setupLogging(ga, cfg)
	if err != nil {
		return err
	}
	if runLog != nil {
		defer func() { _ = runLog.Close() }()
	}

	inputs, err := resolveInputs(ca.dir, args)
	if err != nil {
		return err
	}
	output := ca.output
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return errors.NewPathError(fmt.Sprintf("invalid output path: %s", ca.output))
		}
	}
	output = util.ResolveOutputPath(inputs[0], output)
	if err := util.EnsureDirectory(filepath.Dir(output)); err != nil {
		return errors.NewIOError("failed to create output directory", err)
	}
	if err := util.EnsureDirectoryWritable(filepath.Dir(output)); err != nil {
		return errors.NewIOError("output directory is not writable", err)
	}

	rep := newReporter(ca.json, stdout, stderr)
	cleanupStaleTemp(cfg)
	util.CheckDiskSpace(filepath.Dir(output), func(format string, args ...any) {
		rep.Warning(fmt.Sprintf(format, args...))
	})

	m, err := newMerger(ga, cfg, rep)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer close(sigCh)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			m.Cancel()
		}
	}()

	if ga.sandbox {
		if err := m.Initialize(contextOf(cmd)); err != nil {
			return err
		}
	}

	_, err = m.Concatenate(contextOf(cmd), inputs, output)
	return err
}

func executeCheck(cmd *cobra.Command, ga *globalArgs, ca checkArgs, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd, ga)
	if err != nil {
		return err
	}
	runLog, err := setupLogging(ga, cfg)
	if err != nil {
		return err
	}
	if runLog != nil {
		defer func() { _ = runLog.Close() }()
	}

	inputs, err := resolveInputs(ca.dir, args)
	if err != nil {
		return err
	}

	rep := newReporter(ca.json, stdout, stderr)
	m, err := newMerger(ga, cfg, rep)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	v, err := m.ValidateCompatibility(contextOf(cmd), inputs)
	if err != nil {
		return err
	}
	logging.Info("compatibility checked", "inputs", len(inputs), "compatible", v.Compatible,
		"strategy", strategy.Select(v).String())
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
