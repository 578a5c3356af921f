// Package cmd provides the mdvdb CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/config"
	"github.com/mdvdb/mdvdb/internal/embed"
	"github.com/mdvdb/mdvdb/internal/logging"
	"github.com/mdvdb/mdvdb/internal/scanner"
	"github.com/mdvdb/mdvdb/internal/store"
	"github.com/mdvdb/mdvdb/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root mdvdb command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mdvdb",
		Short: "Local, file-backed retrieval over a Markdown vault",
		Long: `mdvdb indexes a directory of Markdown files for hybrid search:
dense vector similarity fused with BM25 lexical matching.

Everything lives on disk next to your notes. There is no server to run
and no external database.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
			}
			return nil
		},
	}

	cmd.SetVersionTemplate("mdvdb version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.markdownvdb/logs/")

	cmd.AddCommand(
		newInitCmd(),
		newIndexCmd(),
		newSearchCmd(),
		newWatchCmd(),
		newStatusCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

func setupLogging(cmd *cobra.Command, args []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// vaultComponents bundles everything a command needs to operate on a
// vault: its configuration and the index/lexical store/embedder built
// from that configuration.
type vaultComponents struct {
	cfg      *config.Config
	root     string
	index    *store.Index
	lexical  store.LexicalStore
	embedder embed.Embedder
	scanner  *scanner.Scanner
}

func (v *vaultComponents) Close() {
	if v.index != nil {
		_ = v.index.Close()
	}
	if v.lexical != nil {
		_ = v.lexical.Close()
	}
	if v.embedder != nil {
		_ = v.embedder.Close()
	}
}

// openVault loads configuration for root and opens (creating if absent)
// the vector and lexical stores plus the configured embedding provider.
func openVault(ctx context.Context, root string) (*vaultComponents, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	indexPath := filepath.Join(root, cfg.Paths.IndexFile)
	ftsPath := filepath.Join(root, cfg.Paths.FTSIndexDir)

	idx, err := store.OpenOrCreate(indexPath, store.DefaultVectorStoreConfig(cfg.Embeddings.Dimensions), cfg.StoreEmbeddingConfig())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := idx.CheckCompatibility(cfg.StoreEmbeddingConfig()); err != nil {
		_ = idx.Close()
		return nil, err
	}

	lexical, err := store.OpenBleveLexicalStore(ftsPath)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("open lexical store: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedderConfig())
	if err != nil {
		_ = idx.Close()
		_ = lexical.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		_ = idx.Close()
		_ = lexical.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	return &vaultComponents{cfg: cfg, root: root, index: idx, lexical: lexical, embedder: embedder, scanner: sc}, nil
}

func workingDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return dir, nil
}
