package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "dotenv file loaded over the process environment",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "importer",
		Usage: "product catalog CSV importer",
		Flags: []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API (and in-process workers with QUEUE_DRIVER=memory)",
				Action: serveAction,
			},
			{
				Name:   "worker",
				Usage:  "consume queued ingestion and webhook units",
				Action: workerAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply the database schema and exit",
				Action: migrateAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("importer failed", "error", err)
		os.Exit(1)
	}
}
