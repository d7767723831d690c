package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docfox/docfox/internal/app"
	"github.com/docfox/docfox/internal/config"
	"github.com/docfox/docfox/internal/ingest"
)

// statusPollInterval is how often the one-shot ingest command checks
// task progress.
const statusPollInterval = 500 * time.Millisecond

// runIngest indexes a documentation tree and blocks until the task
// finishes. Ctrl-C cancels the task instead of abandoning it.
func runIngest() error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	collection := ingestFlags.String("collection", "", "Target collection (default: configured default collection)")
	force := ingestFlags.Bool("force", false, "Drop the collection before indexing")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	source := ""
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		source = args[0]
		args = args[1:]
	}
	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}
	if source == "" {
		return fmt.Errorf("usage: docfox ingest <path> [-collection name] [-force]")
	}
	source, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("resolving source path: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *collection == "" {
		*collection = cfg.DefaultCollection
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	task, err := a.Ingest.Start(ingest.Request{
		Source:       source,
		Collection:   *collection,
		ForceReindex: *force,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Indexing %s into collection %q (task %s)\n", source, *collection, task.ID)

	task, err = waitForTask(ctx, a.Ingest, task.ID)
	if err != nil {
		return err
	}

	printTaskSummary(task)
	if task.Status != ingest.StatusCompleted {
		return fmt.Errorf("ingestion %s", task.Status)
	}
	return nil
}

// waitForTask polls until the task reaches a terminal status. A
// cancelled context requests task cancellation and keeps polling so
// the final status is still reported.
func waitForTask(ctx context.Context, m *ingest.Manager, id string) (ingest.Task, error) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	cancelRequested := false
	for {
		task, err := m.Get(id)
		if err != nil {
			return ingest.Task{}, err
		}
		if task.Status.Terminal() {
			return task, nil
		}

		if cancelRequested {
			<-ticker.C
			continue
		}
		select {
		case <-ctx.Done():
			cancelRequested = true
			fmt.Println("\nCancelling...")
			if err := m.Cancel(id); err != nil && !errors.Is(err, ingest.ErrTaskFinished) {
				return task, err
			}
		case <-ticker.C:
		}
	}
}

func printTaskSummary(task ingest.Task) {
	fmt.Printf("Status: %s\n", task.Status)
	fmt.Printf("Documents: %d/%d, chunks indexed: %d\n", task.DocsDone, task.DocsTotal, task.ChunksDone)
	if task.Error != "" {
		fmt.Printf("Error: %s\n", task.Error)
	}
	for _, de := range task.DocErrors {
		fmt.Printf("  skipped %s: %s\n", de.Path, de.Message)
	}
}
