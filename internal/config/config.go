package config

import (
	"context"
	"time"

	"github.com/chirino/memory-policy/internal/model"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the memory policy engine.
type Config struct {
	// Store backend type: "sqlite" (reference implementation).
	StoreType string

	// DBURL is the store DSN. ":memory:" runs sqlite in-memory.
	DBURL string

	// Cache backend type: "ristretto" or "none".
	CacheType string

	// MergeCacheTTL bounds how long merged context results are cached.
	MergeCacheTTL time.Duration

	// PolicyFile is an optional YAML per-scope retention policy document.
	// When empty the default policy table applies.
	PolicyFile string

	// Policies is the validated per-scope policy set.
	Policies model.PolicySet

	// Sweep
	SweepInterval   time.Duration
	SweepCron       string // optional cron expression; overrides SweepInterval
	SweepBatchDelay time.Duration
	SweepMaxRetries int

	// Dedup
	DedupInterval      time.Duration
	DedupHighThreshold float64
	DedupLowThreshold  float64

	// Merge
	MergeLimitPerScope int
	MergeGlobalLimit   int
	MergeScopeTimeout  time.Duration

	// Cost pricing table (see internal/cost). Prices are per unit listed.
	StoragePricePerGBMonth float64
	PricePerThousandEmbeds float64
	PricePerThousandQuery  float64

	// Server
	Port                int
	ReadHeaderTimeout   time.Duration
	ManagementAccessLog bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics.
	MetricsLabels string

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreType:              "sqlite",
		DBURL:                  "memory-policy.db",
		CacheType:              "none",
		MergeCacheTTL:          time.Minute,
		Policies:               model.DefaultPolicySet(),
		SweepInterval:          time.Hour,
		SweepBatchDelay:        100 * time.Millisecond,
		SweepMaxRetries:        3,
		DedupInterval:          24 * time.Hour,
		DedupHighThreshold:     0.95,
		DedupLowThreshold:      0.85,
		MergeLimitPerScope:     20,
		MergeGlobalLimit:       20,
		MergeScopeTimeout:      2 * time.Second,
		StoragePricePerGBMonth: 0.25,
		PricePerThousandEmbeds: 0.10,
		PricePerThousandQuery:  0.05,
		Port:                   8080,
		ReadHeaderTimeout:      5 * time.Second,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
	}
}

// LoadPolicies resolves the effective policy set: the policy file when
// configured, the defaults otherwise. Validation is eager; an invalid file
// rejects startup before any store is opened.
func (c *Config) LoadPolicies() error {
	if c.PolicyFile == "" {
		return c.Policies.Validate()
	}
	set, err := model.LoadPolicySet(c.PolicyFile)
	if err != nil {
		return err
	}
	c.Policies = set
	return nil
}
