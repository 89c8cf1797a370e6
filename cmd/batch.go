package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/database"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/scan"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/store"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

var batchSchedule string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Scan every configured connection",
	Long: `Runs an incremental scan over every connection in the config file's
batch.connections list, a bounded number at a time. One connection failing
never stops the rest.

With --schedule (or batch.cron in the config) the process stays resident and
re-runs the batch on the given cron expression.

Examples:
  gitscan batch
  gitscan batch --schedule "0 2 * * *"
  gitscan batch --schedule "@every 6h"`,
	RunE: runBatchCmd,
}

func init() {
	batchCmd.Flags().StringVar(&batchSchedule, "schedule", "",
		"cron expression to re-run the batch on (overrides batch.cron)")
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Batch.Connections) == 0 {
		return fmt.Errorf("no connections configured: add batch.connections to the config file")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	executor := scan.NewExecutor(cfg, store.New(db))
	reqs := make([]models.ScanRequest, 0, len(cfg.Batch.Connections))
	for i, conn := range cfg.Batch.Connections {
		if !models.ToolType(conn.ToolType).Valid() {
			return fmt.Errorf("batch.connections[%d]: unknown tool type %q", i, conn.ToolType)
		}
		if conn.RepoURL == "" {
			return fmt.Errorf("batch.connections[%d]: repo_url is required", i)
		}
		reqs = append(reqs, models.ScanRequest{
			ToolConfigID: conn.ToolConfigID,
			ToolType:     models.ToolType(conn.ToolType),
			RepoURL:      conn.RepoURL,
			RepoName:     conn.RepoName,
			Branch:       conn.Branch,
			Credential: models.Credential{
				Token:    conn.Token,
				Username: conn.Username,
				Password: conn.Password,
			},
			CloneEnabled: conn.CloneEnabled,
		})
	}

	schedule := batchSchedule
	if schedule == "" {
		schedule = cfg.Batch.Cron
	}
	if schedule == "" {
		return runBatchOnce(ctx, executor, reqs)
	}

	// Resident mode: one immediate run, then on the cron schedule until
	// interrupted.
	if err := runBatchOnce(ctx, executor, reqs); err != nil {
		slog.Error("Initial batch run failed", "error", err)
	}

	runner := cron.New()
	if _, err := runner.AddFunc(schedule, func() {
		if err := runBatchOnce(ctx, executor, reqs); err != nil {
			slog.Error("Scheduled batch run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	runner.Start()
	defer runner.Stop()

	fmt.Printf("Batch scheduler running (%s), press Ctrl+C to stop\n", schedule)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("Shutting down")
	return nil
}

func runBatchOnce(ctx context.Context, executor *scan.Executor, reqs []models.ScanRequest) error {
	started := time.Now()
	results := executor.RunBatch(ctx, reqs)

	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "FAILED: " + r.ErrorMessage
			failed++
		}
		fmt.Printf("  %-30s commits=%-5d mrs=%-5d users=%-4d %s\n",
			r.ToolConfigID, r.CommitsFound, r.MergeRequestsFound, r.UsersFound, status)
	}
	fmt.Printf("Batch finished in %s: %d/%d succeeded\n",
		time.Since(started).Round(time.Millisecond), len(results)-failed, len(results))
	if failed == len(results) {
		return fmt.Errorf("all %d connections failed", failed)
	}
	return nil
}
