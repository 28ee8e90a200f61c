package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/propensity/internal/app"
	"github.com/MikeSquared-Agency/propensity/internal/config"
	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/processor"
	"github.com/MikeSquared-Agency/propensity/internal/replay"
	"github.com/MikeSquared-Agency/propensity/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	dir      string
	file     string
	state    string
	prefix   string
	minTurns int
	dryRun   bool
	jsonOut  bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "propensity-replay",
		Short: "Score recorded sales-call transcripts turn by turn",
		Long: `Replays JSONL call transcripts through the conversion engine.

Each file holds one {"speaker","message"} object per line. Every file is
scored as a progression; results go to the prediction log and NATS when
DATABASE_URL / NATS_URL are set. Progress is saved so an interrupted run
resumes where it stopped.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.dir == "" && opts.file == "" {
				return errors.New("one of --dir or --file is required")
			}
			if opts.minTurns < 0 {
				return fmt.Errorf("--min-turns must be >= 0, got %d", opts.minTurns)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "Directory of .jsonl transcripts (searched recursively)")
	f.StringVar(&opts.file, "file", "", "Replay a single transcript file")
	f.StringVar(&opts.state, "state", "", "State file (default ~/.propensity/replay-state.json)")
	f.StringVar(&opts.prefix, "prefix", "replay:", "Prefix for replayed conversation ids")
	f.IntVar(&opts.minTurns, "min-turns", 2, "Skip transcripts with fewer turns")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Score without publishing or recording")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("dir", "file")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	ctx := cmd.Context()
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()

	eng, err := app.NewEngine(cfg, logger)
	if err != nil {
		return err
	}

	var emitter replay.Emitter
	if !opts.dryRun {
		var publisher processor.Publisher
		var recorder processor.Recorder
		if cfg.DatabaseURL != "" {
			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			recorder = db
		}
		if cfg.NatsURL != "" {
			nc, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
			if err != nil {
				return fmt.Errorf("connect NATS: %w", err)
			}
			defer nc.Close()
			publisher = nc
		}
		if publisher == nil && recorder == nil {
			logger.Warn("neither DATABASE_URL nor NATS_URL set, results are only summarized")
		}
		emitter = processor.New(eng, publisher, recorder, logger)
	}

	runner := replay.NewRunner(replay.Config{
		Dir:        opts.dir,
		SingleFile: opts.file,
		StatePath:  opts.state,
		DryRun:     opts.dryRun,
		MinTurns:   opts.minTurns,
		IDPrefix:   opts.prefix,
	}, eng, emitter, logger)

	sum, runErr := runner.Run(ctx)
	if sum != nil {
		if opts.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
		} else {
			fmt.Fprint(cmd.OutOrStdout(), replay.FormatSummary(sum))
		}
	}
	if runErr != nil {
		return fmt.Errorf("replay: %w", runErr)
	}
	return nil
}
