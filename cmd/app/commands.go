package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"EpiCast/internal/di"
	"EpiCast/internal/domain/models"
	"EpiCast/pkg/config"
	"EpiCast/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, trigger consumer and tuning queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := boot()
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
}

var requeueLimit int

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move dead-lettered tuning jobs back onto the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := boot()
		if err != nil {
			return err
		}
		defer app.Close()

		jobs := app.Jobs()
		if jobs == nil {
			return errors.New("requeue: redis is not configured")
		}
		moved, err := jobs.RequeueDead(cmd.Context(), requeueLimit)
		if err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", moved)
		return nil
	},
}

func stageCommands() []*cobra.Command {
	return []*cobra.Command{
		stageCommand(models.StageTune, "Search SARIMA hyperparameters per disease code"),
		stageCommand(models.StageTrain, "Train and register a model per disease code"),
		stageCommand(models.StagePredict, "Forecast from the latest registered model per disease code"),
		stageCommand(models.StageCycle, "Train then predict per disease code"),
	}
}

func stageCommand(stage models.Stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(stage),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStage(ctx, stage)
		},
	}
}

func runStage(ctx context.Context, stage models.Stage) error {
	app, err := boot()
	if err != nil {
		return err
	}
	defer app.Close()

	req := models.RunRequest{DiseaseCodes: codes, Workers: workers}
	summary, err := app.Pipeline.RunStage(ctx, stage, req)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if n := summary.Count(models.TaskFailed); n > 0 {
		return fmt.Errorf("%s: %d of %d disease codes failed", stage, n, len(summary.Results))
	}
	return nil
}

func boot() (*server.App, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, nil
}
