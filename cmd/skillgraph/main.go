// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/poiesic/skillgraph/config"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("skillgraph failed", "err", err)
		os.Exit(exitFailed)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "skillgraph",
		Usage: "Load the ESCO taxonomy into a resumable object store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "ESCO CSV location: a directory or a bucket URL (s3://, gs://, file://)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
			&cli.BoolFlag{
				Name:  "embeddings",
				Usage: "Compute embeddings during ingestion and enable search",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Run ingestion if the current state calls for it",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Run regardless of the current state",
					},
					&cli.BoolFlag{
						Name:  "skip-relations",
						Usage: "Only run the schema and entity phases",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for an active run to finish instead of exiting",
					},
					&cli.StringSliceFlag{
						Name:  "class",
						Usage: "Restrict entity phases to these classes (repeatable)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the current ingestion state",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "history",
						Usage: "Also list the last N metadata records",
					},
				},
			},
			{
				Name:   "decide",
				Usage:  "Report whether ingestion should run",
				Action: decideCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Evaluate as if --force were passed to ingest",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Check store, configuration and source files",
				Action: validateCommand,
			},
			{
				Name:   "verify",
				Usage:  "Confirm the last run completed and every class holds objects",
				Action: verifyCommand,
			},
			{
				Name:   "metrics",
				Usage:  "Print ingestion metrics as YAML",
				Action: metricsCommand,
			},
			{
				Name:   "wait",
				Usage:  "Wait until the current run completes",
				Action: waitCommand,
			},
			{
				Name:      "search",
				Usage:     "Semantic search over ingested entities",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					&cli.StringSliceFlag{
						Name:  "class",
						Usage: "Restrict results to these classes (repeatable)",
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Lowest similarity a semantic hit may have",
						Value: 0.6,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute embeddings of stored objects",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "class",
						Usage: "Only re-embed these classes (repeatable)",
					},
				},
			},
		},
	}
}

// appState is built by setup and shared by every command.
type appState struct {
	cfg         *config.Config
	metrics     *metrics.Metrics
	stopMetrics context.CancelFunc
}

const stateKey = "skillgraph"

func stateFrom(c *cli.Context) *appState {
	st, _ := c.App.Metadata[stateKey].(*appState)
	return st
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitManual)
	}
	applyFlags(c, cfg)

	logger, err := cfg.Logging.NewLogger(c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), exitManual)
	}
	slog.SetDefault(logger)

	st := &appState{cfg: cfg}
	if cfg.Metrics.Enabled {
		st.metrics = metrics.New()
		ctx, cancel := context.WithCancel(context.Background())
		st.stopMetrics = cancel
		go func() {
			if err := st.metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Address, "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Address)
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[stateKey] = st
	return nil
}

// applyFlags lets explicitly set flags override the file and environment.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("data") {
		cfg.DataSource = c.String("data")
	}
	if c.IsSet("db") {
		cfg.StorePath = c.String("db")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = c.String("metrics-addr")
	}
	if c.IsSet("embeddings") {
		cfg.AI.Enabled = c.Bool("embeddings")
	}
	if c.IsSet("embedding-host") {
		cfg.AI.Host = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.AI.Model = c.String("embedding-model")
	}
}

func teardown(c *cli.Context) error {
	if st := stateFrom(c); st != nil && st.stopMetrics != nil {
		st.stopMetrics()
	}
	return nil
}
