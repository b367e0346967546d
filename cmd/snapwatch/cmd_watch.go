package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"snapwatch/internal/logging"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the rotate, check, promote and rebuild pipelines on their schedules",
	Long: "Runs as a daemon, executing each pipeline on the cron schedule from the\n" +
		"config file's watch section. Pipelines without a schedule stay off.\n" +
		"Stops on SIGINT or SIGTERM, letting running jobs finish.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	r, cfg, err := buildRunner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New("watch")
	sched := cron.New()
	jobs := []struct {
		name string
		expr string
		run  func(context.Context) error
	}{
		{"rotate", cfg.Watch.Rotate, func(ctx context.Context) error {
			return r.RotateAll(ctx, r.Today())
		}},
		{"check", cfg.Watch.Check, func(ctx context.Context) error {
			_, err := r.CheckAll(ctx, r.Today())
			return err
		}},
		{"promote", cfg.Watch.Promote, func(ctx context.Context) error {
			return r.PromoteAll(ctx, r.Today())
		}},
		{"rebuild", cfg.Watch.Rebuild, func(ctx context.Context) error {
			_, err := r.RebuildRun(ctx)
			return err
		}},
	}

	scheduled := 0
	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		if _, err := sched.AddFunc(job.expr, watchJob(ctx, log, job.name, job.run)); err != nil {
			return fmt.Errorf("%s schedule: %w", job.name, err)
		}
		scheduled++
	}
	if scheduled == 0 {
		return errors.New("no watch schedules configured")
	}

	log.Info("Watch daemon started", "jobs", scheduled)
	sched.Start()
	<-ctx.Done()
	log.Info("Watch daemon stopping")
	<-sched.Stop().Done()
	return nil
}

func watchJob(ctx context.Context, log *slog.Logger, name string, run func(context.Context) error) func() {
	return func() {
		log.Info("Scheduled run starting", "job", name)
		if err := run(ctx); err != nil {
			log.Error("Scheduled run failed", "job", name, "error", err)
			return
		}
		log.Info("Scheduled run finished", "job", name)
	}
}
