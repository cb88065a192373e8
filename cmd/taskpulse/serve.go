package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/job"
	"github.com/digitaldrywood/taskpulse/internal/logger"
	"github.com/digitaldrywood/taskpulse/internal/web"
)

var noScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and run the scheduled recompute",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve requests only, without the background recompute")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if n, err := a.db.PurgeSessions(ctx, time.Now().Add(-cfg.SessionTTL)); err != nil {
		logger.Warn("failed to purge expired sessions", "error", err)
	} else if n > 0 {
		logger.Info("purged expired sessions", "count", n)
	}

	if !noScheduler {
		identity, err := a.exportAuth(ctx)
		if err != nil {
			return err
		}
		sched := job.NewScheduler(a.pipeline, identity, cfg.RecomputeInterval)
		sched.Start()
		defer sched.Stop()
	}

	srv := web.NewServer(web.Options{
		Addr:         cfg.ListenAddr,
		Sources:      cfg.Sources,
		SessionTTL:   cfg.SessionTTL,
		SecureCookie: strings.HasPrefix(cfg.RedirectURI, "https://"),
	}, a.manager, a.graph, a.engine, a.pipeline, a.db)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
