// Package server exposes the policy engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/engine"
	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running HTTP server and its subsystems.
type Server struct {
	Config *config.Config
	Engine *engine.Engine
	Router *gin.Engine
	Port   int

	httpServer *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Port=0 for a random port. The actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memory policy service",
		"port", cfg.Port,
		"store", cfg.StoreType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := metrics.ParseLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.Init(metricsLabels)

	ctx = config.WithContext(ctx, cfg)
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(metrics.AccessLogMiddleware())
	} else {
		router.Use(metrics.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(metrics.MetricsMiddleware())

	MountRoutes(router, eng)

	// Start background services.
	sweepSvc := service.NewSweepService(eng.Store(), eng.Sweeper(), cfg.SweepInterval, cfg.SweepCron, cfg.SweepBatchDelay)
	go sweepSvc.Start(ctx)

	dedupSvc := service.NewDedupService(eng.Store(), eng.Dedup(), cfg.DedupInterval)
	go dedupSvc.Start(ctx)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server stopped", "err", err)
		}
	}()

	log.Info("Server listening", "port", port)
	markReady()
	return &Server{
		Config:     cfg,
		Engine:     eng,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
