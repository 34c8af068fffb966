package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"ai-oracle/server/config"
	"ai-oracle/server/event"
	"ai-oracle/server/llm"
	"ai-oracle/server/logging"
	"ai-oracle/server/oracle"
	"ai-oracle/server/render"
	"ai-oracle/server/sim"
	"ai-oracle/server/store"
)

const (
	exitError   = 1
	exitInvalid = 2
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "oracle",
		Usage: "Monte Carlo predictions for what-if questions",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"o"},
				Usage:   "output format: table, json or yaml",
				Value:   "table",
			},
			&cli.StringFlag{
				Name:  "history",
				Usage: "history backend: postgres, sqlite or memory (overrides HISTORY_BACKEND)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			predictCommand(),
			historyCommand(),
			showCommand(),
			rerunCommand(),
			exportCommand(),
			migrateCommand(),
		},
	}
}

// appEnv is what every command needs after flags and environment are read.
type appEnv struct {
	cfg     config.Config
	log     *logging.Logger
	format  render.Format
	history store.History
}

func setup(c *cli.Context) (*appEnv, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalid)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if b := c.String("history"); b != "" {
		cfg.HistoryBackend = b
	}
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalid)
	}
	return &appEnv{cfg: cfg, log: logging.New(cfg.LogLevel), format: format}, nil
}

func (e *appEnv) openHistory(ctx context.Context) (store.History, error) {
	if e.history != nil {
		return e.history, nil
	}
	h, err := store.Open(ctx, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("open history (%s): %w", e.cfg.HistoryBackend, err)
	}
	e.log.Debug("history opened", map[string]any{"backend": e.cfg.HistoryBackend})
	e.history = h
	return h, nil
}

func (e *appEnv) close() {
	if e.history != nil {
		_ = e.history.Close()
	}
	e.log.Sync()
}

// llmResolver builds the model-backed resolver from the environment.
func (e *appEnv) llmResolver(model string) (event.Resolver, string, error) {
	if model == "" {
		model = e.cfg.Model
	}
	lc, err := llm.ConfigFromEnv(model)
	if err != nil {
		return nil, "", cli.Exit(err.Error(), exitInvalid)
	}
	lc.Timeout = e.cfg.LLMTimeout
	lc.RateInterval = e.cfg.LLMRateInterval
	client := llm.NewClient(lc, e.log)
	return client, lc.Kind.String() + ":" + client.Model(), nil
}

func (e *appEnv) service(resolver event.Resolver, source string, h store.History, seed int64) *oracle.Service {
	if seed == 0 {
		seed = e.cfg.Seed
	}
	return oracle.NewService(oracle.Options{
		Resolver:   resolver,
		History:    h,
		Simulator:  sim.New(sim.Config{Seed: seed}),
		Logger:     e.log,
		Iterations: e.cfg.Iterations,
		Source:     source,
	})
}

// exitFor maps domain errors onto exit codes.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	switch {
	case errors.Is(err, sim.ErrInvalidInput), errors.Is(err, store.ErrNotFound):
		return cli.Exit(err.Error(), exitInvalid)
	case errors.Is(err, context.Canceled):
		return cli.Exit("cancelled", exitError)
	default:
		return cli.Exit(err.Error(), exitError)
	}
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
