package main

import (
	"encoding/json"
	"fmt"

	"github.com/nvandessel/dbmon/internal/generator"
	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a single batch of samples",
		Long: `Generate one batch of simulated activity samples and print it as JSON.

Output is always JSON, so the global --json flag has no effect here.

Example:
  dbmon generate --sources 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sources") {
				n, err := cmd.Flags().GetInt("sources")
				if err != nil {
					return err
				}
				cfg.Generator.SourceCount = n
			}
			if cfg.Generator.SourceCount < 1 {
				return fmt.Errorf("--sources must be at least 1, got %d", cfg.Generator.SourceCount)
			}

			batch := generator.New().Generate(cfg.Generator.SourceCount)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(batch)
		},
	}

	cmd.Flags().Int("sources", 0, "Number of cluster/replica pairs (default from config)")

	return cmd
}
