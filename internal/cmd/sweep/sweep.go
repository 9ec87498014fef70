// Package sweep implements the one-shot retention sweep sub-command.
package sweep

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/cmd/serve"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/engine"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/memory-policy/internal/plugin/cache/noop"
	_ "github.com/chirino/memory-policy/internal/plugin/store/gormstore"
)

// Command returns the sweep sub-command. It applies retention transitions
// once and exits, for cron-driven deployments that do not run the server.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var ownerKey string

	flags := serve.Flags(&cfg)
	flags = append(flags, &cli.StringFlag{
		Name:        "owner-key",
		Sources:     cli.EnvVars("MEMORY_POLICY_OWNER_KEY"),
		Destination: &ownerKey,
		Usage:       "Sweep a single owner; all owners when unset",
	})

	return &cli.Command{
		Name:  "sweep",
		Usage: "Apply retention transitions once and exit",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// The one-shot commands never serve queries, so the merge
			// cache is not worth warming up.
			cfg.CacheType = "none"
			ctx = config.WithContext(ctx, &cfg)
			eng, err := engine.New(ctx, &cfg)
			if err != nil {
				return err
			}

			if ownerKey != "" {
				summary, err := eng.SweepOwner(ctx, ownerKey)
				if err != nil {
					return err
				}
				log.Info("Sweep finished",
					"owner", summary.OwnerKey,
					"evaluated", summary.Evaluated,
					"archived", summary.Archived,
					"deleted", summary.Deleted,
					"failed", len(summary.Failed),
				)
				return nil
			}

			summaries, err := eng.SweepAll(ctx)
			if err != nil {
				return err
			}
			archived, deleted, failed := 0, 0, 0
			for _, s := range summaries {
				archived += s.Archived
				deleted += s.Deleted
				failed += len(s.Failed)
			}
			log.Info("Sweep finished",
				"owners", len(summaries),
				"archived", archived,
				"deleted", deleted,
				"failed", failed,
			)
			return nil
		},
	}
}
