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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kathan-shah07/fundrag"
	"github.com/kathan-shah07/fundrag/config"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/guard"
	"github.com/kathan-shah07/fundrag/ingestion"
	"github.com/kathan-shah07/fundrag/reembed"
	"github.com/kathan-shah07/fundrag/retrieval"
	"github.com/kathan-shah07/fundrag/storage"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "fundrag",
		Usage: "Mutual fund question answering over scraped fund pages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or JSON config file",
				EnvVars: []string{"FUNDRAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
				Value: "text",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and run the background scheduler",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overriding server.host and server.port",
					},
					&cli.BoolFlag{
						Name:  "no-scheduler",
						Usage: "Do not start the background scheduler",
					},
				},
			},
			{
				Name:   "run",
				Usage:  "Run the pipeline once: detect new URLs, scrape and ingest",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Ignore the freshness check",
					},
					&cli.BoolFlag{
						Name:  "no-check-new",
						Usage: "Skip new URL detection",
					},
				},
			},
			{
				Name:      "scrape",
				Usage:     "Scrape the given URLs, or every configured URL",
				ArgsUsage: "[url...]",
				Action:    scrapeCommand,
			},
			{
				Name:   "ingest",
				Usage:  "Ingest everything in the data directory",
				Action: ingestCommand,
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the ingested funds",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of chunks to retrieve (0 uses ingestion.top_k)",
					},
					&cli.BoolFlag{
						Name:  "scores",
						Usage: "Include similarity scores in sources",
					},
				},
			},
			{
				Name:   "info",
				Usage:  "Show collection info and freshness",
				Action: infoCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed stored chunks with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to write per batch",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 50,
					},
					&cli.StringFlag{
						Name:  "fund",
						Usage: "Only re-embed chunks of this fund name",
					},
				},
			},
			{
				Name:   "reset",
				Usage:  "Delete every chunk in the collection",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the deletion",
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// The config file and environment decide the logger unless flags did.
	if !c.IsSet("log-level") || !c.IsSet("log-format") {
		level, format := c.String("log-level"), c.String("log-format")
		if !c.IsSet("log-level") && cfg.Logging.Level != "" {
			level = cfg.Logging.Level
		}
		if !c.IsSet("log-format") && cfg.Logging.Format != "" {
			format = cfg.Logging.Format
		}
		logger, err := newLogger(c.App.ErrWriter, level, format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(logger)
	}
	return cfg, nil
}

func openService(c *cli.Context) (*fundrag.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	svc, err := fundrag.Open(c.Context, cfg, fundrag.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open service: %w", err)
	}
	return svc, nil
}

func serveCommand(c *cli.Context) error {
	if !strings.EqualFold(c.String("log-level"), "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv, err := svc.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	addr := c.String("addr")
	if addr == "" {
		addr = svc.Config().Addr()
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, addr)
	})
	if !c.Bool("no-scheduler") {
		sched := svc.Scheduler()
		g.Go(func() error {
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("starting scheduler: %w", err)
			}
			<-ctx.Done()
			sched.Stop()
			return nil
		})
	}
	return g.Wait()
}

func runCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Scheduler().RunOnce(c.Context, ingestion.RunOptions{
		Force:        c.Bool("force"),
		CheckNewURLs: !c.Bool("no-check-new"),
	})
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}
	return printJSON(c.App.Writer, result)
}

func scrapeCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	stage, err := svc.Pipeline().Scrape(c.Context, c.Args().Slice())
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}
	return printJSON(c.App.Writer, stage)
}

func ingestCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	stage, err := svc.Pipeline().Ingest(c.Context)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return printJSON(c.App.Writer, stage)
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	if c.Int("k") < 0 {
		return errors.New("k must not be negative")
	}
	if err := guard.Check(question); err != nil {
		return err
	}

	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	answer, err := svc.Answer(c.Context, question, retrieval.AnswerOptions{
		K:            c.Int("k"),
		ReturnScores: c.Bool("scores"),
	})
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, answer)
}

type infoOutput struct {
	Collection  any    `json:"collection"`
	HasData     bool   `json:"has_data"`
	NeedsUpdate bool   `json:"needs_update"`
	NextUpdate  string `json:"next_update_at,omitempty"`
}

func infoCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	info, err := svc.Store().CollectionInfo(c.Context)
	if err != nil {
		return fmt.Errorf("reading collection: %w", err)
	}
	window := svc.Catalog().Freshness(c.Context, svc.Pipeline().Interval())
	out := infoOutput{
		Collection:  info,
		HasData:     info.Count > 0,
		NeedsUpdate: window.NeedsUpdate,
	}
	if window.NextUpdateAt != nil {
		out.NextUpdate = window.NextUpdateAt.Format(time.RFC3339)
	}
	return printJSON(c.App.Writer, out)
}

func reembedCommand(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return errors.New("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return errors.New("report-interval must be greater than 0")
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
	}
	if fund := c.String("fund"); fund != "" {
		cfg.Filter = storage.Filter{core.KeyFundName: fund}
	}
	r, err := reembed.NewReembedder(svc.Store(), cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	n, err := r.Run(c.Context)
	if err != nil {
		return fmt.Errorf("re-embedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "re-embedded %d chunks\n", n)
	return nil
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("refusing to delete the collection without --yes")
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Store().DeleteCollection(c.Context); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "collection deleted")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	logger, err := newLogger(c.App.ErrWriter, c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, levelStr, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}
