package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/cmd/analyze"
	"github.com/chirino/memory-policy/internal/cmd/dedup"
	"github.com/chirino/memory-policy/internal/cmd/serve"
	"github.com/chirino/memory-policy/internal/cmd/sweep"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "memory-policy",
		Usage: "Memory scope, retention, and deduplication policy engine",
		Commands: []*cli.Command{
			serve.Command(),
			sweep.Command(),
			dedup.Command(),
			analyze.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
