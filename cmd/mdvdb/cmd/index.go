package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/index"
	"github.com/mdvdb/mdvdb/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Ingest every Markdown file under the configured source directories",
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

			result, err := coordinator.FullIngest(cmd.Context())
			if err != nil {
				return err
			}

			w := output.New(cmd.OutOrStdout())
			w.Successf("ingested %d, skipped %d, removed %d, failed %d (%d embedding calls)",
				result.FilesIngested, result.FilesSkipped, result.FilesRemoved, result.FilesFailed, result.APICalls)
			return nil
		},
	}
	return cmd
}
