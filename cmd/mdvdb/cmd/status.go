package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/output"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report index size and configuration",
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

			status := v.index.Status()
			lexStats := v.lexical.Stats()

			w := output.New(cmd.OutOrStdout())
			w.Statusf("", "documents:        %d", status.DocumentCount)
			w.Statusf("", "chunks:           %d", status.ChunkCount)
			w.Statusf("", "vectors:          %d", status.VectorCount)
			w.Statusf("", "lexical docs:     %d", lexStats.DocumentCount)
			w.Statusf("", "index size:       %d bytes", status.FileSizeBytes)
			w.Statusf("", "last updated:     %s", status.LastUpdated.Format("2006-01-02 15:04:05"))
			w.Statusf("", "embedding:        %s / %s (%d dims)",
				status.EmbeddingConfig.Provider, status.EmbeddingConfig.Model, status.EmbeddingConfig.Dimensions)
			return nil
		},
	}
	return cmd
}
