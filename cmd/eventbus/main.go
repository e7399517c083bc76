// Package main provides the operator CLI for the event bus: dead-letter
// inspection and replay, the recovery dashboard, and round-lane draining.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/config"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/observability"
)

func main() {
	shutdown := observability.Setup()

	cmd := &cli.Command{
		Name:    "eventbus",
		Usage:   "Event routing and failure-recovery operations",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Value: config.DefaultStorePath,
				Usage: "SQLite store path (\":memory:\" for ephemeral)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (.yaml or .json)",
			},
		},
		Commands: []*cli.Command{
			dlqCommand(),
			dashboardCommand(),
			roundsCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
		slog.Warn("telemetry shutdown failed", slog.String("error", shutdownErr.Error()))
	}
	if err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// busConfig resolves settings from --config when given, defaults otherwise.
// The --db flag overrides the configured store path.
func busConfig(cmd *cli.Command) (config.BusConfig, error) {
	cfg, err := config.BusFromFile(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if db := cmd.String("db"); db != "" && db != config.DefaultStorePath {
		cfg.StorePath = db
	}
	return cfg, nil
}
