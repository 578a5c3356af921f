package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/config"
	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
	"github.com/mdvdb/mdvdb/internal/output"
)

func newInitCmd() *cobra.Command {
	var provider, model string
	var dimensions int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a .markdownvdb.yaml config file in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}

			path := filepath.Join(root, ".markdownvdb.yaml")
			if _, err := os.Stat(path); err == nil {
				return mdvdberrors.ConfigAlreadyExistsErr(path)
			}

			cfg := config.NewConfig()
			if provider != "" {
				cfg.Embeddings.Provider = provider
			}
			if model != "" {
				cfg.Embeddings.Model = model
			}
			if dimensions > 0 {
				cfg.Embeddings.Dimensions = dimensions
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := cfg.WriteYAML(path); err != nil {
				return err
			}

			output.New(cmd.OutOrStdout()).Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "embedding provider (openai, ollama, custom, mock)")
	cmd.Flags().StringVar(&model, "model", "", "embedding model name")
	cmd.Flags().IntVar(&dimensions, "dimensions", 0, "embedding vector dimensions")

	return cmd
}
