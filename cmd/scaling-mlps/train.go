package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samuelsimko/scaling-mlps/config"
	"github.com/samuelsimko/scaling-mlps/experiment"
	"github.com/samuelsimko/scaling-mlps/logging"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	cfg := config.Default()
	var configPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a training experiment",
		Long: `Train a model on a dataset. Parameters come from the defaults, then
the optional --config YAML file, then any flag given on the command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run := cfg
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if err := config.ApplyChanged(cmd.Flags(), &loaded); err != nil {
					return err
				}
				run = loaded
			}
			return runTraining(cmd, &run)
		},
	}
	config.BindFlags(cmd.Flags(), &cfg)
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	return cmd
}

func runTraining(cmd *cobra.Command, cfg *config.Configuration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logCfg := logging.FromConfig(cfg.Logging)
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return &config.ConfigurationError{Field: "logging.level", Value: cfg.Logging.Level, Err: err}
	}
	defer logger.Close()

	if cfg.Tracking.TraceStdout {
		shutdown, err := experiment.SetupTracing(cmd.ErrOrStderr(), logging.DefaultService)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing traces failed", "error", err)
			}
		}()
	}

	exp, err := experiment.New(ctx, cfg, experiment.Options{
		Logger:      logger.Logger,
		Out:         cmd.OutOrStdout(),
		ProgressOut: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := exp.Close(); err != nil {
			logger.Warn("closing tracking sinks failed", "error", err)
		}
	}()

	summary, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Finished %s: best test accuracy %.4f, %s, %s\n",
		summary.Record.Identity,
		summary.Record.BestAccuracy,
		humanize.SIWithDigits(summary.Record.Compute, 3, "FLOP"),
		summary.Elapsed.Round(time.Second),
	)
	return nil
}
