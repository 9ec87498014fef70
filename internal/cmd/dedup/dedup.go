// Package dedup implements the one-shot deduplication sub-command.
package dedup

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/cmd/serve"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/engine"
	"github.com/chirino/memory-policy/internal/model"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/memory-policy/internal/plugin/cache/noop"
	_ "github.com/chirino/memory-policy/internal/plugin/store/gormstore"
)

// Command returns the dedup sub-command. High-confidence groups are
// resolved immediately; medium-confidence groups are printed for review.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var ownerKey string

	flags := serve.Flags(&cfg)
	flags = append(flags, &cli.StringFlag{
		Name:        "owner-key",
		Required:    true,
		Sources:     cli.EnvVars("MEMORY_POLICY_OWNER_KEY"),
		Destination: &ownerKey,
		Usage:       "Owner key to deduplicate",
	})

	return &cli.Command{
		Name:  "dedup",
		Usage: "Deduplicate one owner's records and exit",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.CacheType = "none"
			ctx = config.WithContext(ctx, &cfg)
			eng, err := engine.New(ctx, &cfg)
			if err != nil {
				return err
			}

			groups, err := eng.RunDedup(ctx, ownerKey)
			if err != nil {
				return err
			}

			resolved := 0
			for _, g := range groups {
				if g.ConfidenceTier == model.TierHigh {
					resolved++
					continue
				}
				fmt.Printf("pending group %s: canonical=%s members=%v similarity=%.4f\n",
					g.ID, g.CanonicalID, g.MemberIDs, g.SimilarityScore)
			}
			log.Info("Dedup finished",
				"owner", ownerKey,
				"groups", len(groups),
				"resolved", resolved,
				"pending", len(groups)-resolved,
			)
			return nil
		},
	}
}
