package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/splice/internal/api"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/metrics"
	"github.com/five82/splice/internal/reporter"
	"github.com/five82/splice/internal/util"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

func newServeCmd(ga *globalArgs) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the concatenation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeServe(cmd, ga, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to SPLICE_LISTEN_ADDR or 127.0.0.1:8085)")
	return cmd
}

func executeServe(cmd *cobra.Command, ga *globalArgs, addr string) error {
	cfg, err := loadConfig(cmd, ga)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if ga.verbose {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)
	log := logging.Global().WithPrefix("server")

	if err := util.EnsureDirectoryWritable(cfg.GetTempDir()); err != nil {
		return errors.NewIOError("temp directory is not writable", err)
	}
	cleanupStaleTemp(cfg)
	metrics.InitializeMetrics()

	m, err := newMerger(ga, cfg, reporter.NullReporter{})
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ga.sandbox {
		if err := m.Initialize(ctx); err != nil {
			return err
		}
	}

	h := api.NewHandler(ctx, m.Executor(), logging.Global())
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(h, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open for the life of a job
		IdleTimeout:  60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutdown initiated")

		if res := m.Cancel(); res.Cancelled {
			log.Info("cancelled active job", "job", res.JobID)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", "error", err)
		}
	}()

	log.Info("server started", "addr", cfg.ListenAddr, "executor", executorName(ga))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		stop()
		<-shutdownDone
		return err
	}
	<-shutdownDone
	log.Info("shutdown complete")
	return nil
}

func executorName(ga *globalArgs) string {
	if ga.sandbox {
		return metrics.ExecutorSandboxed
	}
	return metrics.ExecutorNative
}
