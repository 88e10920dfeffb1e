package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/refine/internal/config"
	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/backend/providers"
	"github.com/tessellate-ai/refine/pkg/eval"
	"github.com/tessellate-ai/refine/pkg/middleware"
	"github.com/tessellate-ai/refine/pkg/optimize"
	"github.com/tessellate-ai/refine/pkg/storage"
)

func newOptimizeCmd() *cobra.Command {
	var (
		configPath  string
		datasetPath string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run a beam-search optimization over a labelled dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimize(cmd.Context(), configPath, datasetPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "refine.yaml", "path to the YAML configuration")
	cmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "path to the JSON dataset (array of examples)")
	cmd.MarkFlagRequired("dataset")
	return cmd
}

func runOptimize(ctx context.Context, configPath, datasetPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dataset, err := loadDataset(datasetPath)
	if err != nil {
		return err
	}

	b, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	optimizer := optimize.New(optimize.Options{
		BeamWidth:          cfg.Optimizer.BeamWidth,
		MaxIterations:      cfg.Optimizer.MaxIterations,
		Concurrency:        cfg.Optimizer.Concurrency,
		CheckpointInterval: cfg.Optimizer.CheckpointInterval,
		Store:              store,
	})

	result, err := optimizer.Run(ctx, promptPipeline(b, cfg.Backend.Model), dataset, eval.ExactMatch)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	fmt.Printf("best score:  %.4f\n", result.BestScore)
	fmt.Printf("iterations:  %d\n", result.TotalIterations)
	fmt.Printf("converged:   %v\n", result.Converged)
	fmt.Printf("duration:    %s\n", result.TotalTime.Round(1e6))
	fmt.Printf("history:     %v\n", optimize.Scores(result.History))
	return nil
}

func loadDataset(path string) ([]eval.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var dataset []eval.Example
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(dataset) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}
	return dataset, nil
}

// buildBackend resolves the configured provider from the registry and wraps
// it in the full resilience stack, outermost first: logging, breaker,
// retry, throttle, timeout.
func buildBackend(cfg config.Config) (backend.Backend, error) {
	registry := providers.DefaultRegistry()
	base, err := registry.New(cfg.Backend.Provider, backend.Config{
		APIKey:  cfg.Backend.APIKey,
		BaseURL: cfg.Backend.BaseURL,
		Model:   cfg.Backend.Model,
	})
	if err != nil {
		return nil, err
	}

	return middleware.Chain(base,
		middleware.NewLogging(slog.Default()),
		middleware.NewCircuitBreaker(middleware.BreakerConfig{
			FailureThreshold: cfg.Resilience.BreakerOpens,
			OpenTimeout:      cfg.Resilience.BreakerReset.Std(),
		}),
		middleware.NewRetry(middleware.RetryConfig{
			MaxRetries:    cfg.Resilience.MaxRetries,
			InitialDelay:  cfg.Resilience.InitialDelay.Std(),
			MaxDelay:      cfg.Resilience.MaxDelay.Std(),
			BackoffFactor: cfg.Resilience.BackoffFactor,
			Jitter:        true,
		}),
		middleware.NewThrottle(middleware.ThrottleConfig{RPS: cfg.Resilience.RPS}),
		middleware.NewTimeout(middleware.TimeoutConfig{Timeout: cfg.Resilience.Timeout.Std()}),
	), nil
}

func buildStore(cfg config.Config) (storage.Store, error) {
	if cfg.Storage.SQLitePath == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewSQLiteStore(cfg.Storage.SQLitePath)
}

// promptPipeline renders each example's inputs as "key: value" lines,
// prefixed by any accumulated hint, and returns the model's answer.
func promptPipeline(b backend.Backend, model string) eval.Pipeline {
	return eval.PipelineFunc(func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		var sb strings.Builder
		for key, value := range inputs {
			fmt.Fprintf(&sb, "%s: %v\n", key, value)
		}
		sb.WriteString("Answer:")

		result, err := b.Generate(ctx, sb.String(), &backend.GenerateOptions{Model: model})
		if err != nil {
			return nil, err
		}
		return map[string]any{"answer": strings.TrimSpace(result.Text)}, nil
	})
}
