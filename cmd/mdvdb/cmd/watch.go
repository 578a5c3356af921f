package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/index"
	"github.com/mdvdb/mdvdb/internal/output"
	"github.com/mdvdb/mdvdb/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and incrementally re-index on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}

			v, err := openVault(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer v.Close()

			coordCfg := index.Config{
				RootPath:       root,
				SourceDirs:     v.cfg.Paths.SourceDirs,
				IgnorePatterns: v.cfg.Paths.IgnorePatterns,
				Chunking:       v.cfg.ChunkerOptions(),
				EmbedBatchSize: v.cfg.Embeddings.BatchSize,
			}
			coordinator := index.NewCoordinator(coordCfg, v.index, v.lexical, v.embedder, v.scanner)
			out := output.New(cmd.OutOrStdout())

			result, err := coordinator.FullIngest(cmd.Context())
			if err != nil {
				return fmt.Errorf("initial ingest: %w", err)
			}
			out.Successf("ingested %d, skipped %d, removed %d, failed %d (%d embedding calls)",
				result.FilesIngested, result.FilesSkipped, result.FilesRemoved, result.FilesFailed, result.APICalls)

			opts := watcher.DefaultOptions()
			opts.DebounceWindow = msToDuration(v.cfg.Watch.DebounceMS)
			opts.IgnorePatterns = v.cfg.Paths.IgnorePatterns

			w, err := watcher.NewHybridWatcher(opts)
			if err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx, root); err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}
			defer w.Stop()

			out.Status("", "watching "+root)
			return runWatchLoop(ctx, w, coordinator, out)
		},
	}
	return cmd
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func runWatchLoop(ctx context.Context, w watcher.Watcher, coordinator *index.Coordinator, out *output.Writer) error {
	events := w.Events()
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			coordinator.HandleEvents(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				out.Warningf("watch error: %v", err)
			}
		}
	}
}
