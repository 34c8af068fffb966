package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"ai-oracle/server/oracle"
	"ai-oracle/server/render"
	"ai-oracle/server/scenario"
	"ai-oracle/server/sim"
	"ai-oracle/server/store"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "listen port (overrides PORT)"},
			&cli.StringFlag{Name: "model", Usage: "model used to resolve questions"},
			&cli.StringFlag{Name: "scenario", Usage: "serve fixed outcomes from a YAML scenario file instead of a model"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := e.openHistory(ctx)
			if err != nil {
				return exitFor(err)
			}
			svc, err := e.resolvingService(c.String("scenario"), c.String("model"), h)
			if err != nil {
				return exitFor(err)
			}

			port := e.cfg.Port
			if p := c.String("port"); p != "" {
				port = p
			}
			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           Router(svc, e.log),
				ReadHeaderTimeout: 15 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			e.log.Sugar().Infof("listening on http://localhost:%s (history: %s, Ctrl+C to stop)", port, e.cfg.HistoryBackend)

			select {
			case err := <-errc:
				return exitFor(err)
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			e.log.Sugar().Infof("shutting down, draining for up to %s", 10*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return exitFor(err)
			}
			return nil
		},
	}
}

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Simulate one or more questions",
		ArgsUsage: "[question ...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Usage: "iterations per question (overrides SIM_ITERATIONS)"},
			&cli.Int64Flag{Name: "seed", Usage: "fixed seed for reproducible runs (overrides SIM_SEED)"},
			&cli.StringFlag{Name: "model", Usage: "model used to resolve questions"},
			&cli.StringFlag{Name: "scenario", Usage: "YAML scenario file; with no questions, every scenario in it is run"},
			&cli.BoolFlag{Name: "no-save", Usage: "do not record runs in history"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "no progress line"},
		},
		Action: predictAction,
	}
}

func predictAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()
	if s := c.Int64("seed"); s != 0 {
		e.cfg.Seed = s
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	var h store.History
	if !c.Bool("no-save") {
		if h, err = e.openHistory(ctx); err != nil {
			return exitFor(err)
		}
	}

	questions := c.Args().Slice()
	var static *scenario.Static
	if path := c.String("scenario"); path != "" {
		scs, err := scenario.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalid)
		}
		static = scenario.NewStatic(scs)
		if len(questions) == 0 {
			questions = static.Questions()
		}
	}
	if len(questions) == 0 {
		return cli.Exit("no question given", exitInvalid)
	}

	var svc *oracle.Service
	if static != nil {
		svc = e.service(static, "scenario", h, 0)
	} else if svc, err = e.resolvingService("", c.String("model"), h); err != nil {
		return exitFor(err)
	}

	showProgress := !c.Bool("quiet") && e.format == render.FormatTable && isTTY(os.Stderr)
	for _, q := range questions {
		iterations := c.Int("iterations")
		run := svc
		if static != nil {
			if sc, ok := static.Lookup(q); ok {
				if iterations == 0 {
					iterations = sc.Iterations
				}
				if sc.Seed != 0 && c.Int64("seed") == 0 {
					run = e.service(static, "scenario", h, sc.Seed)
				}
			}
		}

		var onProgress func(sim.Progress)
		var line *render.ProgressLine
		if showProgress {
			line = render.NewProgressLine(os.Stderr, 30)
			onProgress = line.Update
		}
		p, err := run.Predict(ctx, q, iterations, onProgress)
		if line != nil {
			line.Done()
		}
		if err != nil {
			return exitFor(err)
		}
		e.log.Debug("predicted", map[string]any{"question": p.Question, "leader": render.Leader(p.Outcomes), "run_id": p.RunID})
		if err := render.Prediction(c.App.Writer, p, e.format); err != nil {
			return exitFor(err)
		}
	}
	return nil
}

// resolvingService picks the scenario resolver when a file is given and the
// model resolver otherwise.
func (e *appEnv) resolvingService(scenarioPath, model string, h store.History) (*oracle.Service, error) {
	if scenarioPath != "" {
		scs, err := scenario.Load(scenarioPath)
		if err != nil {
			return nil, cli.Exit(err.Error(), exitInvalid)
		}
		return e.service(scenario.NewStatic(scs), "scenario", h, 0), nil
	}
	resolver, source, err := e.llmResolver(model)
	if err != nil {
		return nil, err
	}
	return e.service(resolver, source, h, 0), nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "maximum runs to list", Value: 20},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()
			h, err := e.openHistory(c.Context)
			if err != nil {
				return exitFor(err)
			}
			runs, err := h.ListRuns(c.Context, c.Int("limit"))
			if err != nil {
				return exitFor(err)
			}
			ps := make([]*oracle.Prediction, 0, len(runs))
			for _, r := range runs {
				ps = append(ps, oracle.FromRun(r))
			}
			return exitFor(render.Runs(c.App.Writer, ps, e.format))
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one stored run",
		ArgsUsage: "<run-id>",
		Action: func(c *cli.Context) error {
			id, err := runIDArg(c)
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()
			h, err := e.openHistory(c.Context)
			if err != nil {
				return exitFor(err)
			}
			r, err := h.GetRun(c.Context, id)
			if err != nil {
				return exitFor(err)
			}
			return exitFor(render.Prediction(c.App.Writer, oracle.FromRun(r), e.format))
		},
	}
}

func rerunCommand() *cli.Command {
	return &cli.Command{
		Name:      "rerun",
		Usage:     "Simulate a stored run's outcomes again",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Usage: "iterations (default: the original run's)"},
			&cli.Int64Flag{Name: "seed", Usage: "fixed seed"},
		},
		Action: func(c *cli.Context) error {
			id, err := runIDArg(c)
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()
			h, err := e.openHistory(c.Context)
			if err != nil {
				return exitFor(err)
			}
			svc := e.service(nil, "", h, c.Int64("seed"))
			p, err := svc.Rerun(c.Context, id, c.Int("iterations"), nil)
			if err != nil {
				return exitFor(err)
			}
			return exitFor(render.Prediction(c.App.Writer, p, e.format))
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Dump stored runs as msgpack",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
			&cli.IntFlag{Name: "limit", Usage: "maximum runs to export", Value: 500},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()
			h, err := e.openHistory(c.Context)
			if err != nil {
				return exitFor(err)
			}
			runs, err := h.ListRuns(c.Context, c.Int("limit"))
			if err != nil {
				return exitFor(err)
			}
			w := c.App.Writer
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return exitFor(err)
				}
				defer f.Close()
				w = f
			}
			if err := render.WriteMsgpack(w, runs); err != nil {
				return exitFor(err)
			}
			if path := c.String("out"); path != "" {
				e.log.Sugar().Infof("exported %d runs to %s", len(runs), path)
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the Postgres schema",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()
			if e.cfg.DatabaseURL == "" {
				return cli.Exit("migrate needs DATABASE_URL", exitInvalid)
			}
			db, err := store.OpenPostgres(c.Context, e.cfg.DatabaseURL)
			if err != nil {
				return exitFor(err)
			}
			defer db.Close()
			if err := store.Migrate(c.Context, db); err != nil {
				return exitFor(fmt.Errorf("migrate: %w", err))
			}
			fmt.Fprintln(c.App.Writer, "migrated")
			return nil
		},
	}
}

func runIDArg(c *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Exit(fmt.Sprintf("expected a run id, got %q", c.Args().First()), exitInvalid)
	}
	return id, nil
}
