// Package cmd wires the service together and runs the scheduler loop.
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrismostert/schraper/internal/config"
	"github.com/chrismostert/schraper/internal/database"
	"github.com/chrismostert/schraper/internal/job"
	"github.com/chrismostert/schraper/internal/logger"
)

var once bool

var rootCmd = &cobra.Command{
	Use:   "schraper",
	Short: "Fetches cinema showtimes and ratings into postgres",
	Long: `Schraper periodically pulls the cinema chain's catalog of cities,
cinemas, shows and showtimes, cross-references every show against the
ratings search API, and upserts the result into postgres.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "run the due jobs a single time and exit")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Development: cfg.Debug})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	jobs := job.New(job.Deps{
		Store:  database.NewSQLStore(db, log),
		Config: cfg,
		Logger: log,
	})
	if err := jobs.Add(job.KindMovies, cfg.Scheduler.MovieInterval); err != nil {
		return err
	}

	if once {
		return jobs.Poll(ctx)
	}

	log.Info("scheduler started",
		logger.Duration("poll_interval", cfg.Scheduler.PollInterval),
		logger.Duration("movie_interval", cfg.Scheduler.MovieInterval),
	)

	ticker := time.NewTicker(cfg.Scheduler.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			// A failing poll is logged and retried on the next tick.
			if err := jobs.Poll(ctx); err != nil {
				log.Error("poll failed", logger.Error(err))
			}
		}
	}
}
