package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdvdb/mdvdb/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var minScore float64
	var mode string
	var pathPrefix string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the vault with hybrid semantic + lexical retrieval",
		Args:  cobra.ExactArgs(1),
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

			if limit <= 0 {
				limit = v.cfg.Search.DefaultLimit
			}
			if !cmd.Flags().Changed("min-score") {
				minScore = v.cfg.Search.MinScore
			}
			modeStr := mode
			if modeStr == "" {
				modeStr = string(v.cfg.Search.Mode)
			}
			searchMode := search.ParseMode(modeStr)

			engine := search.NewEngine(v.index, v.lexical, v.embedder, v.cfg.Search.RRFK)
			results, err := engine.Search(cmd.Context(), search.Query{
				Text:       args[0],
				Limit:      limit,
				MinScore:   minScore,
				Mode:       searchMode,
				PathPrefix: pathPrefix,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, results)
			}
			printText(cmd, results)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum score threshold")
	cmd.Flags().StringVar(&mode, "mode", "", "search mode: hybrid, semantic, lexical")
	cmd.Flags().StringVar(&pathPrefix, "path-prefix", "", "restrict results to this path prefix")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")

	return cmd
}

func printText(cmd *cobra.Command, results []*search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
		return
	}
	for i, r := range results {
		heading := strings.Join(r.HeadingHierarchy, " > ")
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s  (score %.4f)\n", i+1, r.SourcePath, r.Score)
		if heading != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", heading)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "   %s\n\n", truncate(r.Content, 200))
	}
}

func printJSON(cmd *cobra.Command, results []*search.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
