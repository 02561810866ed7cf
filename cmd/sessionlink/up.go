package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/config"
	"github.com/koyif/sessionlink/internal/logger"
	"github.com/koyif/sessionlink/internal/metrics"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply the session link migration",
	Long: `Rename the legacy session_id columns aside, add the session foreign keys,
backfill them from the hashed session keys and drop the legacy columns.`,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithRunID(ctx, uuid.NewString())
	log := logger.FromContext(ctx, zap.L())
	started := time.Now()

	pool, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(pool, cfg, cmd.ErrOrStderr(), zap.L())
	if err != nil {
		return err
	}

	m := metrics.New()
	var summary *backfill.Summary
	migration := a.migration(func(s backfill.Summary) {
		summary = &s
		m.ObserveBackfill(s)
	})

	runErr := a.runner.Apply(ctx, migration)

	if st, err := a.runner.Status(ctx, migration); err == nil {
		m.ObserveMigration(st)
	} else {
		log.Warn("Failed to read migration status", zap.Error(err))
	}
	m.ObserveRun(time.Since(started), runErr, time.Now())

	if summary != nil {
		printSummary(cmd.OutOrStdout(), *summary)
	}

	pushMetrics(ctx, cfg, m, log)

	if runErr != nil {
		log.Error("Migration failed", zap.Error(runErr))
		return runErr
	}

	log.Info("Migration finished", zap.Duration("elapsed", time.Since(started)))
	return nil
}

func printSummary(w io.Writer, s backfill.Summary) {
	fmt.Fprintf(w, "sessions indexed: %s (skipped %s, collisions %s)\n",
		humanize.Comma(s.Index.Sessions),
		humanize.Comma(s.Index.Skipped),
		humanize.Comma(s.Index.Collisions))

	for _, r := range s.Results {
		fmt.Fprintf(w, "%s: scanned %s, linked %s, unlinked %s, failed %s\n",
			r.Table,
			humanize.Comma(r.Scanned),
			humanize.Comma(r.Resolved),
			humanize.Comma(r.MissedTotal()),
			humanize.Comma(r.Failed))
	}
}

// pushMetrics pushes m when a Pushgateway is configured. Failures are logged only.
func pushMetrics(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Metrics.PushTimeout)
	defer cancel()

	if err := m.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		log.Warn("Failed to push metrics", zap.Error(err))
	}
}
