// Package analyze implements the cost analysis sub-command.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chirino/memory-policy/internal/cmd/serve"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/cost"
	"github.com/urfave/cli/v3"
)

// Command returns the analyze sub-command. It reads a usage statistics JSON
// document and prints the cost report, without touching the store.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var usageFile string

	flags := serve.Flags(&cfg)
	flags = append(flags, &cli.StringFlag{
		Name:        "usage-file",
		Required:    true,
		Sources:     cli.EnvVars("MEMORY_POLICY_USAGE_FILE"),
		Destination: &usageFile,
		Usage:       "JSON file with monthly usage statistics",
	})

	return &cli.Command{
		Name:  "analyze",
		Usage: "Estimate monthly cost and optimization savings",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			data, err := os.ReadFile(usageFile)
			if err != nil {
				return fmt.Errorf("failed to read usage file: %w", err)
			}
			var usage cost.UsageStats
			if err := json.Unmarshal(data, &usage); err != nil {
				return fmt.Errorf("invalid usage file: %w", err)
			}

			report, err := cost.Analyze(usage, cost.PricingTable{
				StoragePerGBMonth:     cfg.StoragePricePerGBMonth,
				PerThousandEmbeddings: cfg.PricePerThousandEmbeds,
				PerThousandQueries:    cfg.PricePerThousandQuery,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
