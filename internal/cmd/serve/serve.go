// Package serve implements the serve sub-command.
package serve

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/server"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/memory-policy/internal/plugin/cache/noop"
	_ "github.com/chirino/memory-policy/internal/plugin/cache/ristretto"
	_ "github.com/chirino/memory-policy/internal/plugin/store/gormstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory policy HTTP server",
		Flags: Flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cfg)
		},
	}
}

// Flags returns the shared configuration flags. The sweep, dedup, and
// analyze sub-commands reuse them so every entry point reads the same
// environment variables.
func Flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_POLICY_PORT"),
			Destination: &cfg.Port,
			Value:       cfg.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.DurationFlag{
			Name:        "read-header-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_POLICY_READ_HEADER_TIMEOUT"),
			Destination: &cfg.ReadHeaderTimeout,
			Value:       cfg.ReadHeaderTimeout,
			Usage:       "HTTP read header timeout",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_POLICY_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_POLICY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Usage:       "Constant Prometheus labels as key=value pairs, comma separated",
		},

		// ── Storage ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Record store backend",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Store DSN (':memory:' for in-memory sqlite)",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Merge result cache backend (ristretto, none)",
		},
		&cli.DurationFlag{
			Name:        "merge-cache-ttl",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MEMORY_POLICY_MERGE_CACHE_TTL"),
			Destination: &cfg.MergeCacheTTL,
			Value:       cfg.MergeCacheTTL,
			Usage:       "How long merged context results stay cached",
		},

		// ── Retention ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "policy-file",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORY_POLICY_POLICY_FILE"),
			Destination: &cfg.PolicyFile,
			Usage:       "YAML file with per-scope retention policies; defaults apply when unset",
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORY_POLICY_SWEEP_INTERVAL"),
			Destination: &cfg.SweepInterval,
			Value:       cfg.SweepInterval,
			Usage:       "How often the background sweep runs",
		},
		&cli.StringFlag{
			Name:        "sweep-cron",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORY_POLICY_SWEEP_CRON"),
			Destination: &cfg.SweepCron,
			Usage:       "Cron expression for sweep scheduling; overrides --sweep-interval",
		},
		&cli.DurationFlag{
			Name:        "sweep-batch-delay",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORY_POLICY_SWEEP_BATCH_DELAY"),
			Destination: &cfg.SweepBatchDelay,
			Value:       cfg.SweepBatchDelay,
			Usage:       "Pause between owners during a sweep",
		},
		&cli.IntFlag{
			Name:        "sweep-max-retries",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORY_POLICY_SWEEP_MAX_RETRIES"),
			Destination: &cfg.SweepMaxRetries,
			Value:       cfg.SweepMaxRetries,
			Usage:       "Retries per record before a sweep gives up on it",
		},

		// ── Deduplication ─────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "dedup-interval",
			Category:    "Deduplication:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DEDUP_INTERVAL"),
			Destination: &cfg.DedupInterval,
			Value:       cfg.DedupInterval,
			Usage:       "How often the background dedup runs",
		},
		&cli.FloatFlag{
			Name:        "dedup-high-threshold",
			Category:    "Deduplication:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DEDUP_HIGH_THRESHOLD"),
			Destination: &cfg.DedupHighThreshold,
			Value:       cfg.DedupHighThreshold,
			Usage:       "Cosine similarity at or above which duplicates auto-resolve",
		},
		&cli.FloatFlag{
			Name:        "dedup-low-threshold",
			Category:    "Deduplication:",
			Sources:     cli.EnvVars("MEMORY_POLICY_DEDUP_LOW_THRESHOLD"),
			Destination: &cfg.DedupLowThreshold,
			Value:       cfg.DedupLowThreshold,
			Usage:       "Cosine similarity at or above which duplicates need confirmation",
		},

		// ── Context Merge ─────────────────────────────────────────
		&cli.IntFlag{
			Name:        "merge-limit-per-scope",
			Category:    "Context Merge:",
			Sources:     cli.EnvVars("MEMORY_POLICY_MERGE_LIMIT_PER_SCOPE"),
			Destination: &cfg.MergeLimitPerScope,
			Value:       cfg.MergeLimitPerScope,
			Usage:       "Candidates fetched per scope during a merge",
		},
		&cli.IntFlag{
			Name:        "merge-global-limit",
			Category:    "Context Merge:",
			Sources:     cli.EnvVars("MEMORY_POLICY_MERGE_GLOBAL_LIMIT"),
			Destination: &cfg.MergeGlobalLimit,
			Value:       cfg.MergeGlobalLimit,
			Usage:       "Merged results returned to the caller",
		},
		&cli.DurationFlag{
			Name:        "merge-scope-timeout",
			Category:    "Context Merge:",
			Sources:     cli.EnvVars("MEMORY_POLICY_MERGE_SCOPE_TIMEOUT"),
			Destination: &cfg.MergeScopeTimeout,
			Value:       cfg.MergeScopeTimeout,
			Usage:       "Per-scope deadline during a merge fan-out",
		},

		// ── Cost ──────────────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "price-storage-gb-month",
			Category:    "Cost:",
			Sources:     cli.EnvVars("MEMORY_POLICY_PRICE_STORAGE_GB_MONTH"),
			Destination: &cfg.StoragePricePerGBMonth,
			Value:       cfg.StoragePricePerGBMonth,
			Usage:       "Storage price per GB-month",
		},
		&cli.FloatFlag{
			Name:        "price-per-1k-embeddings",
			Category:    "Cost:",
			Sources:     cli.EnvVars("MEMORY_POLICY_PRICE_PER_1K_EMBEDDINGS"),
			Destination: &cfg.PricePerThousandEmbeds,
			Value:       cfg.PricePerThousandEmbeds,
			Usage:       "Embedding price per thousand calls",
		},
		&cli.FloatFlag{
			Name:        "price-per-1k-queries",
			Category:    "Cost:",
			Sources:     cli.EnvVars("MEMORY_POLICY_PRICE_PER_1K_QUERIES"),
			Destination: &cfg.PricePerThousandQuery,
			Value:       cfg.PricePerThousandQuery,
			Usage:       "Query price per thousand calls",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := server.StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
